package hostapd

import (
	"fmt"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/frame"
)

// Key algorithms, from enum wpa_alg.
const (
	AlgNone = 0
	AlgIGTK = 4 // BIP-CMAC-128
)

// Key flags, from the KEY_FLAG_* bits.
const (
	KeyFlagDefault = 0x02
	KeyFlagTx      = 0x08
	KeyFlagGroup   = 0x10

	KeyFlagGroupTxDefault = KeyFlagGroup | KeyFlagTx | KeyFlagDefault
)

// Key is a SET_KEY request.
type Key struct {
	Alg   int
	Addr  string
	Index int
	Set   bool
	Seq   []byte
	Key   []byte
	Flags int
}

func (k Key) command() string {
	set := 0
	if k.Set {
		set = 1
	}
	return fmt.Sprintf("SET_KEY %d %s %d %d %s %s %d",
		k.Alg, k.Addr, k.Index, set, frame.Hex(k.Seq), frame.Hex(k.Key), k.Flags)
}

// SetKey installs or clears a key in the driver, bypassing hostapd's
// own key management.
func (a *AP) SetKey(k Key) error {
	reply, err := a.Request(k.command())
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("SET_KEY failed: %q", strings.TrimSpace(reply))
	}
	return nil
}
