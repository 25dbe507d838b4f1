// Package report publishes test results.
package report

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"
)

// Status is the outcome of one test.
type Status string

// Test outcomes.
const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// Result is the outcome of one test. Message holds the failure or skip
// reason.
type Result struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary counts the results of a run.
type Summary struct {
	Pass   int      `json:"pass"`
	Fail   int      `json:"fail"`
	Skip   int      `json:"skip"`
	Failed []string `json:"failed,omitempty"`
}

// Add counts r.
func (s *Summary) Add(r Result) {
	switch r.Status {
	case StatusPass:
		s.Pass++
	case StatusSkip:
		s.Skip++
	default:
		s.Fail++
		s.Failed = append(s.Failed, r.Name)
		sort.Strings(s.Failed)
	}
}

// Total returns the number of results counted.
func (s Summary) Total() int {
	return s.Pass + s.Fail + s.Skip
}

func (s Summary) String() string {
	return fmt.Sprintf("%d tests: %d passed, %d failed, %d skipped", s.Total(), s.Pass, s.Fail, s.Skip)
}

// Reporter receives results as a run progresses.
type Reporter interface {
	Start(ctx context.Context) error
	Report(ctx context.Context, r Result) error
	Finish(ctx context.Context, s Summary) error
	Close() error
}

// NewLogReporter returns a Reporter writing one line per result to l.
func NewLogReporter(l *log.Logger) *LogReporter {
	return &LogReporter{l: l}
}

// LogReporter logs results.
type LogReporter struct {
	l *log.Logger
}

// Start is a no-op.
func (*LogReporter) Start(context.Context) error { return nil }

// Report logs r.
func (lr *LogReporter) Report(_ context.Context, r Result) error {
	switch r.Status {
	case StatusPass:
		lr.l.Printf("PASS %s %.3fs", r.Name, r.Duration.Seconds())
	case StatusSkip:
		lr.l.Printf("SKIP %s %.3fs: %s", r.Name, r.Duration.Seconds(), r.Message)
	default:
		lr.l.Printf("FAIL %s %.3fs: %s", r.Name, r.Duration.Seconds(), r.Message)
	}
	return nil
}

// Finish logs the summary and the names of failed tests.
func (lr *LogReporter) Finish(_ context.Context, s Summary) error {
	lr.l.Print(s)
	for _, name := range s.Failed {
		lr.l.Printf("  failed: %s", name)
	}
	return nil
}

// Close is a no-op.
func (*LogReporter) Close() error { return nil }
