package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// Waiter is anything with an attached event monitor.
type Waiter interface {
	WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (wpactrl.Event, error)
}

// WaitOptional waits for an event that may legitimately not arrive. ok
// is false when the wait timed out.
func WaitOptional(ctx context.Context, w Waiter, timeout time.Duration, substrs ...string) (ev wpactrl.Event, ok bool, err error) {
	ev, err = w.WaitEvent(ctx, timeout, substrs...)
	switch {
	case errors.Is(err, wpactrl.ErrEventTimeout):
		return ev, false, nil
	case err != nil:
		return ev, false, err
	}
	return ev, true, nil
}

// RequireNoEvent returns an error naming what if an event matching
// substrs arrives within timeout.
func RequireNoEvent(ctx context.Context, w Waiter, timeout time.Duration, what string, substrs ...string) error {
	ev, ok, err := WaitOptional(ctx, w, timeout, substrs...)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %s", what, ev.Raw())
	}
	return nil
}
