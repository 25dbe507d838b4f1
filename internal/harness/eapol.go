package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// eapolTxTimeout bounds the wait for an EAPOL-TX event.
const eapolTxTimeout = 5 * time.Second

// EAPOLPeer is a station or AP running with ext_eapol_frame_io enabled.
type EAPOLPeer interface {
	OwnAddr() (string, error)
	WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (wpactrl.Event, error)
	EAPOLRx(src, msg string) error
}

// RxMsg waits for p to emit an EAPOL frame and returns it as hex.
func RxMsg(ctx context.Context, p EAPOLPeer) (string, error) {
	ev, err := p.WaitEvent(ctx, eapolTxTimeout, "EAPOL-TX")
	if err != nil {
		return "", fmt.Errorf("timeout on EAPOL-TX: %w", err)
	}
	msg := ev.Arg(2)
	if msg == "" {
		return "", fmt.Errorf("malformed EAPOL-TX event: %s", ev.Raw())
	}
	return msg, nil
}

// TxMsg delivers msg to dst as if sent by src.
func TxMsg(src, dst EAPOLPeer, msg string) error {
	addr, err := src.OwnAddr()
	if err != nil {
		return err
	}
	return dst.EAPOLRx(addr, msg)
}

// ProxyMsg forwards one EAPOL frame from src to dst and returns it.
func ProxyMsg(ctx context.Context, src, dst EAPOLPeer) (string, error) {
	msg, err := RxMsg(ctx, src)
	if err != nil {
		return "", err
	}
	return msg, TxMsg(src, dst, msg)
}
