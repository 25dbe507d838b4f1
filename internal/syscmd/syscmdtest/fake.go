// Package syscmdtest provides a scripted syscmd.Runner.
package syscmdtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Result is the scripted outcome of one command line.
type Result struct {
	Output string
	Err    error
}

// Fake records every invocation and replies from Results, keyed by the
// full command line ("iw wlan3 set type monitor"). Unknown command
// lines succeed with empty output unless Strict is set.
type Fake struct {
	mu      sync.Mutex
	Results map[string]Result
	Strict  bool
	Missing map[string]bool // Commands HasCommand reports as absent.
	calls   []string
}

// Run satisfies syscmd.Runner.
func (f *Fake) Run(_ context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)

	if r, ok := f.Results[line]; ok {
		return r.Output, r.Err
	}
	if f.Strict {
		return "", fmt.Errorf("unexpected command %q", line)
	}
	return "", nil
}

// HasCommand satisfies syscmd.Runner.
func (f *Fake) HasCommand(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Missing[name]
}

// Calls returns the command lines run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
