// Package wlantest queries a running wlantest sniffer through
// wlantest_cli for per-BSS and per-STA protocol counters.
package wlantest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/syscmd"
)

// DefaultCLI is the wlantest_cli binary name.
const DefaultCLI = "wlantest_cli"

// ErrCommandFailed is returned when wlantest_cli replies FAIL.
var ErrCommandFailed = errors.New("wlantest_cli command failed")

// Opt configures a Client.
type Opt func(*Client)

// WithCLI sets the wlantest_cli path.
func WithCLI(path string) Opt {
	return func(c *Client) { c.cli = path }
}

// WithSocket points wlantest_cli at a non-default control socket.
func WithSocket(path string) Opt {
	return func(c *Client) {
		if path != "" {
			c.args = []string{"-s", path}
		}
	}
}

// New returns a Client running commands with r.
func New(r syscmd.Runner, opts ...Opt) *Client {
	c := &Client{r: r, cli: DefaultCLI}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client runs wlantest_cli commands.
type Client struct {
	r    syscmd.Runner
	cli  string
	args []string
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	out, err := c.r.Run(ctx, c.cli, append(append([]string(nil), c.args...), args...)...)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if strings.Contains(out, "FAIL") {
		return "", fmt.Errorf("%s: %w", strings.Join(args, " "), ErrCommandFailed)
	}
	return out, nil
}

func (c *Client) counter(ctx context.Context, args ...string) (int, error) {
	out, err := c.run(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("%s: unexpected reply %q: %w", strings.Join(args, " "), out, err)
	}
	return n, nil
}

// Flush clears all BSS and STA state, including counters.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.run(ctx, "flush")
	return err
}

// AddPassphrase lets wlantest derive PTKs for PSK networks using p.
func (c *Client) AddPassphrase(ctx context.Context, p string) error {
	_, err := c.run(ctx, "add_passphrase", p)
	return err
}

// GetSTACounter returns a per-STA counter such as valid_saqueryreq_tx.
func (c *Client) GetSTACounter(ctx context.Context, field, bssid, addr string) (int, error) {
	return c.counter(ctx, "get_sta_counter", field, bssid, addr)
}

// GetBSSCounter returns a per-BSS counter such as invalid_bip_mmie.
func (c *Client) GetBSSCounter(ctx context.Context, field, bssid string) (int, error) {
	return c.counter(ctx, "get_bss_counter", field, bssid)
}

// InfoBSS returns BSS information such as rsn_capab or key_mgmt.
func (c *Client) InfoBSS(ctx context.Context, field, bssid string) (string, error) {
	return c.run(ctx, "info_bss", field, bssid)
}

// InfoSTA returns STA information such as rsn_capab or key_mgmt.
func (c *Client) InfoSTA(ctx context.Context, field, bssid, addr string) (string, error) {
	return c.run(ctx, "info_sta", field, bssid, addr)
}
