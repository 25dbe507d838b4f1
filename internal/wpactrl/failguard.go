package wpactrl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFailureNotTriggered matches every *NotTriggeredError.
var ErrFailureNotTriggered = errors.New("failure not triggered")

// NotTriggeredError is returned by FailGuard.Wait when the daemon never
// hit the injected failure.
type NotTriggeredError struct {
	Cmd   string // TEST_ALLOC_FAIL or TEST_FAIL
	Funcs string
}

func (e *NotTriggeredError) Error() string {
	what := "TEST_FAIL"
	if e.Cmd == "TEST_ALLOC_FAIL" {
		what = "allocation failure"
	}
	return fmt.Sprintf("%s did not trigger (%s)", what, e.Funcs)
}

// Is reports whether target is ErrFailureNotTriggered.
func (e *NotTriggeredError) Is(target error) bool {
	return target == ErrFailureNotTriggered
}

// Requester sends a control interface command and returns the reply.
type Requester interface {
	Request(cmd string) (string, error)
}

// Trigger polling used by FailGuard.Wait.
const (
	failPollAttempts = 100
	failPollInterval = 50 * time.Millisecond
)

// FailGuard tracks one TEST_ALLOC_FAIL or TEST_FAIL injection. These
// commands exist only in CONFIG_TESTING_OPTIONS builds.
type FailGuard struct {
	r     Requester
	set   string // TEST_ALLOC_FAIL or TEST_FAIL
	get   string // GET_ALLOC_FAIL or GET_FAIL
	funcs string

	attempts int
	interval time.Duration
}

// AllocFail makes the count'th allocation on the funcs call path fail,
// e.g. AllocFail(r, 1, "=sme_sa_query_timer").
func AllocFail(r Requester, count int, funcs string) (*FailGuard, error) {
	return startFail(r, "TEST_ALLOC_FAIL", "GET_ALLOC_FAIL", count, funcs)
}

// FailTest makes the count'th call of the funcs path fail, e.g.
// FailTest(r, 1, "os_get_random;sme_sa_query_timer").
func FailTest(r Requester, count int, funcs string) (*FailGuard, error) {
	return startFail(r, "TEST_FAIL", "GET_FAIL", count, funcs)
}

func startFail(r Requester, set, get string, count int, funcs string) (*FailGuard, error) {
	cmd := fmt.Sprintf("%s %d:%s", set, count, funcs)
	reply, err := r.Request(cmd)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) != respOK {
		return nil, &ErrFailed{Cmd: cmd, Reply: strings.TrimSpace(reply)}
	}
	return &FailGuard{
		r:        r,
		set:      set,
		get:      get,
		funcs:    funcs,
		attempts: failPollAttempts,
		interval: failPollInterval,
	}, nil
}

// Triggered reports whether the daemon has hit the injected failure.
func (g *FailGuard) Triggered() (bool, error) {
	reply, err := g.r.Request(g.get)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(reply, "0:"), nil
}

// Wait polls until the failure has been triggered.
func (g *FailGuard) Wait(ctx context.Context) error {
	for i := 0; i < g.attempts; i++ {
		ok, err := g.Triggered()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.interval):
		}
	}
	return &NotTriggeredError{Cmd: g.set, Funcs: g.funcs}
}

// Close clears the injection.
func (g *FailGuard) Close() error {
	_, err := g.r.Request(g.set + " 0:")
	return err
}
