package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// dataTestTimeout bounds each DATA-TEST-RX wait.
const dataTestTimeout = 5 * time.Second

// Peer is a station or AP that exposes the DATA_TEST commands.
type Peer interface {
	Ifname() string
	OwnAddr() (string, error)
	WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (wpactrl.Event, error)
	DataTestConfig(on bool) error
	DataTestTx(dst, src string, tos int) error
}

// RequireConnectivity checks unicast delivery in both directions and
// broadcast delivery from a to b.
func RequireConnectivity(ctx context.Context, a, b Peer) (err error) {
	addrA, err := a.OwnAddr()
	if err != nil {
		return err
	}
	addrB, err := b.OwnAddr()
	if err != nil {
		return err
	}

	if err := a.DataTestConfig(true); err != nil {
		return fmt.Errorf("failed to enable data test functionality: %w", err)
	}
	defer func() {
		err = errors.Join(err, a.DataTestConfig(false))
	}()
	if err := b.DataTestConfig(true); err != nil {
		return fmt.Errorf("failed to enable data test functionality: %w", err)
	}
	defer func() {
		err = errors.Join(err, b.DataTestConfig(false))
	}()

	if err := dataTest(ctx, a, b, addrB, addrA, "unicast"); err != nil {
		return err
	}
	if err := dataTest(ctx, a, b, wpactrl.BroadcastAddr, addrA, "broadcast"); err != nil {
		return err
	}
	return dataTest(ctx, b, a, addrA, addrB, "unicast")
}

// dataTest sends one frame from tx to dst and waits for rx to report it.
func dataTest(ctx context.Context, tx, rx Peer, dst, src, kind string) error {
	if err := tx.DataTestTx(dst, src, 0); err != nil {
		return err
	}
	ev, err := rx.WaitEvent(ctx, dataTestTimeout, "DATA-TEST-RX")
	if err != nil {
		return fmt.Errorf("%s->%s %s data delivery failed: %w", tx.Ifname(), rx.Ifname(), kind, err)
	}
	if !strings.Contains(ev.Text, "DATA-TEST-RX "+dst+" "+src) {
		return fmt.Errorf("unexpected %s->%s %s data delivery result: %s", tx.Ifname(), rx.Ifname(), kind, ev.Text)
	}
	return nil
}

// RequireNoConnectivity checks that a unicast frame from a does not
// reach b.
func RequireNoConnectivity(ctx context.Context, a, b Peer) (err error) {
	addrA, err := a.OwnAddr()
	if err != nil {
		return err
	}
	addrB, err := b.OwnAddr()
	if err != nil {
		return err
	}
	for _, p := range []Peer{a, b} {
		if err := p.DataTestConfig(true); err != nil {
			return fmt.Errorf("failed to enable data test functionality: %w", err)
		}
		p := p
		defer func() {
			err = errors.Join(err, p.DataTestConfig(false))
		}()
	}

	if err := a.DataTestTx(addrB, addrA, 0); err != nil {
		return err
	}
	ev, err := b.WaitEvent(ctx, time.Second, "DATA-TEST-RX")
	if errors.Is(err, wpactrl.ErrEventTimeout) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected %s->%s data delivery: %s", a.Ifname(), b.Ifname(), ev.Text)
}
