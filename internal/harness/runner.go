package harness

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/report"
)

// abandonGrace is how long a test may keep running past its deadline
// before the runner records a failure and moves on.
const abandonGrace = 5 * time.Second

// finishTimeout bounds the final reporter calls after the run.
const finishTimeout = 5 * time.Second

// Opt configures a Runner.
type Opt func(*Runner)

// WithReporters adds result reporters.
func WithReporters(rs ...report.Reporter) Opt {
	return func(r *Runner) { r.reporters = append(r.reporters, rs...) }
}

// WithRunLogger sets the runner's own logger.
func WithRunLogger(l *log.Logger) Opt {
	return func(r *Runner) { r.logger = l }
}

// WithDefaultTimeout overrides DefaultTimeout for tests without a
// timeout.
func WithDefaultTimeout(d time.Duration) Opt {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner returns a Runner over env.
func NewRunner(env *Env, opts ...Opt) *Runner {
	r := &Runner{
		env:     env,
		logger:  log.New(io.Discard, "", 0),
		timeout: DefaultTimeout,
		grace:   abandonGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Runner executes tests one at a time.
type Runner struct {
	env       *Env
	reporters []report.Reporter
	logger    *log.Logger
	timeout   time.Duration
	grace     time.Duration
}

// Run executes tests in order and reports each result. It returns early
// when ctx is done or a reporter fails.
func (r *Runner) Run(ctx context.Context, tests []*Test) (report.Summary, error) {
	var sum report.Summary

	for _, rep := range r.reporters {
		if err := rep.Start(ctx); err != nil {
			return sum, err
		}
	}

	var (
		runErr    error
		abandoned string // Test whose goroutine still holds the devices.
	)
	for _, t := range tests {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		var res report.Result
		if abandoned != "" {
			res = report.Result{
				Name:    t.Name,
				Status:  report.StatusSkip,
				Message: fmt.Sprintf("not run: %s was abandoned after its timeout", abandoned),
				Start:   time.Now(),
			}
		} else {
			var hung bool
			res, hung = r.runTest(ctx, t)
			if hung {
				abandoned = t.Name
			}
		}
		sum.Add(res)
		if err := r.report(ctx, res); err != nil {
			runErr = err
			break
		}
	}

	fctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	for _, rep := range r.reporters {
		if err := rep.Finish(fctx, sum); err != nil && runErr == nil {
			runErr = err
		}
	}
	return sum, runErr
}

func (r *Runner) report(ctx context.Context, res report.Result) error {
	for _, rep := range r.reporters {
		if err := rep.Report(ctx, res); err != nil {
			return fmt.Errorf("report %s: %w", res.Name, err)
		}
	}
	return nil
}

// runTest resets the environment and runs t in its own goroutine so
// that Fatal and Skip can stop it with runtime.Goexit. hung is set when
// the goroutine outlived its deadline plus the grace period; it may still
// be reading the shared device monitors.
func (r *Runner) runTest(ctx context.Context, t *Test) (res report.Result, hung bool) {
	res = report.Result{Name: t.Name, Start: time.Now()}
	r.logger.Printf("START %s", t.Name)

	if err := r.env.Reset(); err != nil {
		res.Status = report.StatusFail
		res.Message = fmt.Sprintf("reset failed: %v", err)
		res.Duration = time.Since(res.Start)
		return res, false
	}
	for _, d := range r.env.Dev {
		d.Note("TEST-START " + t.Name)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := newState(t.Name, r.env)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Printf("%s: panic: %v\n%s", t.Name, p, debug.Stack())
				s.fail(fmt.Sprintf("panic: %v", p))
			}
		}()
		t.Func(tctx, s)
	}()

	select {
	case <-done:
	case <-tctx.Done():
		select {
		case <-done:
		case <-time.After(r.grace):
			s.fail(fmt.Sprintf("test timed out after %v", timeout))
			hung = true
			r.logger.Printf("%s: abandoned, skipping the remaining tests", t.Name)
		}
	}
	s.runCleanups()

	for _, d := range r.env.Dev {
		d.Note("TEST-STOP " + t.Name)
	}

	res.Status, res.Message = s.result()
	res.Duration = time.Since(res.Start)
	return res, hung
}
