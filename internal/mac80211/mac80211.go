// Package mac80211 inspects kernel mac80211 state: installed keys in
// debugfs and station flags reported by iw.
package mac80211

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/syscmd"
)

// DefaultRoot is the mac80211 debugfs directory.
const DefaultRoot = "/sys/kernel/debug/ieee80211"

// ErrDebugfsUnsupported is returned when the keys directory cannot be read.
var ErrDebugfsUnsupported = errors.New("debugfs not supported in mac80211")

// BIGTK key indexes.
const (
	bigtkIdx6 = 6
	bigtkIdx7 = 7
)

// Key is one entry under <phy>/keys. Fields holds the trimmed contents
// of every readable file in the key directory.
type Key struct {
	Name   string
	Fields map[string]string
}

// Index returns keyidx.
func (k Key) Index() (int, error) {
	return strconv.Atoi(k.Fields["keyidx"])
}

func (k Key) decimal(field string) (int, error) {
	v, err := strconv.Atoi(k.Fields[field])
	if err != nil {
		return 0, fmt.Errorf("key %s %s: %w", k.Name, field, err)
	}
	return v, nil
}

// hexCounter parses the rx_spec / tx_spec packet number counters.
func (k Key) hexCounter(field string) (uint64, error) {
	v, err := strconv.ParseUint(k.Fields[field], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("key %s %s: %w", k.Name, field, err)
	}
	return v, nil
}

// Debugfs reads keys below Root.
type Debugfs struct {
	Root string
}

// ReadKeys reads the keys of phy from DefaultRoot.
func ReadKeys(phy string) ([]Key, error) {
	return Debugfs{Root: DefaultRoot}.ReadKeys(phy)
}

// ReadKeys reads every key directory of phy, sorted by name. Files that
// cannot be read are left out of Fields.
func (d Debugfs) ReadKeys(phy string) ([]Key, error) {
	dir := filepath.Join(d.Root, phy, "keys")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDebugfsUnsupported, err)
	}

	keys := make([]Key, 0, len(entries))
	for _, e := range entries {
		k := Key{Name: e.Name(), Fields: make(map[string]string)}
		files, err := os.ReadDir(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDebugfsUnsupported, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, e.Name(), f.Name()))
			if err != nil {
				continue
			}
			k.Fields[f.Name()] = strings.TrimSpace(string(b))
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

// FindBIGTK returns the first key with keyidx 6 or 7.
func FindBIGTK(keys []Key) (Key, bool) {
	for _, k := range keys {
		idx, err := k.Index()
		if err != nil {
			continue
		}
		if idx == bigtkIdx6 || idx == bigtkIdx7 {
			return k, true
		}
	}
	return Key{}, false
}

// CheckBIGTK compares the BIGTK installed for the AP and the STA and
// checks that beacons were both sent and received with it.
func CheckBIGTK(ap, sta Key) error {
	if sta.Fields["key"] != ap.Fields["key"] {
		return errors.New("AP and STA BIGTK mismatch")
	}
	if sta.Fields["keyidx"] != ap.Fields["keyidx"] {
		return errors.New("AP and STA BIGTK keyidx mismatch")
	}
	if sta.Fields["algorithm"] != ap.Fields["algorithm"] {
		return errors.New("AP and STA BIGTK algorithm mismatch")
	}

	replays, err := sta.decimal("replays")
	if err != nil {
		return err
	}
	icverrors, err := sta.decimal("icverrors")
	if err != nil {
		return err
	}
	if replays > 0 || icverrors > 0 {
		return fmt.Errorf("STA reported errors: replays=%d icverrors=%d", replays, icverrors)
	}

	rx, err := sta.hexCounter("rx_spec")
	if err != nil {
		return err
	}
	if rx < 3 {
		return errors.New("STA did not update BIGTK receive counter sufficiently")
	}
	tx, err := ap.hexCounter("tx_spec")
	if err != nil {
		return err
	}
	if tx < 3 {
		return errors.New("AP did not update BIGTK BIPN sufficiently")
	}
	return nil
}

// StationMFP reports whether the kernel station entry for addr on
// ifname has MFP enabled.
func StationMFP(ctx context.Context, r syscmd.Runner, ifname, addr string) (bool, error) {
	out, err := r.Run(ctx, "iw", "dev", ifname, "station", "get", addr)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "MFP") {
			return strings.Contains(line, "yes"), nil
		}
	}
	return false, fmt.Errorf("no MFP line in station entry for %s", addr)
}
