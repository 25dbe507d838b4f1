// Package harness runs hwsim integration tests against live hostapd and
// wpa_supplicant processes.
package harness

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a test that does not set its own.
const DefaultTimeout = 60 * time.Second

// Func is a test body.
type Func func(ctx context.Context, s *State)

// Test is one registered test.
type Test struct {
	Name    string
	Desc    string
	Func    Func
	Timeout time.Duration
	// Attrs tag the test, e.g. "ocv" or "beacon_prot".
	Attrs []string
}

var registry = struct {
	mu    sync.Mutex
	tests map[string]*Test
}{tests: make(map[string]*Test)}

// AddTest registers t. It is meant to be called from init functions and
// panics on an empty or duplicate name.
func AddTest(t *Test) {
	if t.Name == "" || t.Func == nil {
		panic("harness: test must have a name and a func")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.tests[t.Name]; ok {
		panic(fmt.Sprintf("harness: duplicate test %q", t.Name))
	}
	registry.tests[t.Name] = t
}

// Tests returns every registered test sorted by name.
func Tests() []*Test {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	ts := make([]*Test, 0, len(registry.tests))
	for _, t := range registry.tests {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
	return ts
}

// Match returns the tests whose name matches any of patterns. No
// patterns matches everything.
func Match(tests []*Test, patterns ...string) ([]*Test, error) {
	if len(patterns) == 0 {
		return tests, nil
	}

	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid test pattern %q: %w", p, err)
		}
		res = append(res, re)
	}

	var out []*Test
	for _, t := range tests {
		for _, re := range res {
			if re.MatchString(t.Name) {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}
