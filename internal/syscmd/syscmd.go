// Package syscmd runs the external tools the harness shells out to:
// ip, iw and wlantest_cli.
package syscmd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	HasCommand(name string) bool
}

// Exec is a Runner backed by os/exec.
type Exec struct {
	// Timeout bounds each command when the context has no deadline.
	Timeout time.Duration
}

// Run runs name with args. A non-zero exit status is returned as an
// error that includes the command output.
func (e Exec) Run(ctx context.Context, name string, args ...string) (string, error) {
	if _, ok := ctx.Deadline(); !ok && e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// HasCommand reports whether name is found in PATH.
func (Exec) HasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Must runs the command and discards the output.
func Must(ctx context.Context, r Runner, name string, args ...string) error {
	_, err := r.Run(ctx, name, args...)
	return err
}
