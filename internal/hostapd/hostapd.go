// Package hostapd drives hostapd BSSes through the global and per-BSS
// control interfaces.
package hostapd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// Default control interface locations.
const (
	DefaultGlobalPath = "/var/run/hostapd-global"
	DefaultCtrlDir    = "/var/run/hostapd"
)

const defaultEnableTimeout = 30 * time.Second

var (
	// ErrEnableFailed is returned when hostapd rejects ENABLE.
	ErrEnableFailed = errors.New("failed to enable hostapd interface")
	// ErrStartupFailed is returned when the BSS reports AP-DISABLED
	// after ENABLE.
	ErrStartupFailed = errors.New("AP startup failed")
)

// ParamError is returned when hostapd rejects a SET.
type ParamError struct {
	Field string
	Value string
	Reply string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("failed to set hostapd parameter %s (%q)", e.Field, e.Reply)
}

// TKIP reports whether the rejected value is a TKIP cipher list, which
// builds without CONFIG_TKIP refuse.
func (e *ParamError) TKIP() bool {
	return strings.Contains(e.Value, "TKIP") &&
		(e.Field == "wpa_pairwise" || e.Field == "rsn_pairwise")
}

// DialGlobal connects to the hostapd global control interface.
func DialGlobal(localDir, path string, opts ...wpactrl.Opt) (*Global, error) {
	c, err := wpactrl.Dial(localDir, path, opts...)
	if err != nil {
		return nil, err
	}
	return &Global{conn: c}, nil
}

// Global is the hostapd global control interface.
type Global struct {
	conn *wpactrl.Conn
}

// Add brings up a BSS on ifname with its control socket in ctrlDir.
func (g *Global) Add(ifname, ctrlDir string) error {
	cmd := fmt.Sprintf("ADD %s %s", ifname, ctrlDir)
	reply, err := g.conn.Request(cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("could not add hostapd interface %s: %q", ifname, strings.TrimSpace(reply))
	}
	return nil
}

// Remove tears down the BSS on ifname. Removing an unknown interface is
// not an error.
func (g *Global) Remove(ifname string) error {
	_, err := g.conn.Request("REMOVE " + ifname)
	return err
}

// Close closes the global control socket.
func (g *Global) Close() error {
	return g.conn.Close()
}

// Opt configures AddAP.
type Opt func(*options)

type options struct {
	ctrlDir       string
	localDir      string
	logger        *log.Logger
	wait          bool
	enableTimeout time.Duration
	sockOpts      []wpactrl.Opt
}

// WithCtrlDir sets the directory hostapd creates per-BSS sockets in.
func WithCtrlDir(dir string) Opt {
	return func(o *options) { o.ctrlDir = dir }
}

// WithLocalDir sets where local client sockets are bound.
func WithLocalDir(dir string) Opt {
	return func(o *options) { o.localDir = dir }
}

// WithLogger is optional and defines a logger for control traffic.
func WithLogger(l *log.Logger) Opt {
	return func(o *options) { o.logger = l }
}

// NoWait returns as soon as ENABLE is accepted, without waiting for
// AP-ENABLED.
func NoWait() Opt {
	return func(o *options) { o.wait = false }
}

// WithSocketOpts passes options through to the control sockets.
func WithSocketOpts(opts ...wpactrl.Opt) Opt {
	return func(o *options) { o.sockOpts = append(o.sockOpts, opts...) }
}

func buildOptions(opts []Opt) options {
	o := options{
		ctrlDir:       DefaultCtrlDir,
		wait:          true,
		enableTimeout: defaultEnableTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}

// priorityFields are set before any other parameter, in this order.
// hostapd validates some fields against those set earlier.
var priorityFields = []string{
	"ssid",
	"wpa_passphrase",
	"nas_identifier",
	"wpa_key_mgmt",
	"wpa",
	"wpa_deny_ptk0_rekey",
	"wpa_pairwise",
	"rsn_pairwise",
	"auth_server_addr",
	"acct_server_addr",
	"osu_server_uri",
}

// defaults applied to every new BSS.
var defaults = [][2]string{
	{"driver", "nl80211"},
	{"hw_mode", "g"},
	{"channel", "1"},
	{"ieee80211n", "1"},
	{"logger_stdout", "-1"},
	{"logger_stdout_level", "0"},
}

// AddAP (re)creates the BSS on ifname, applies params and enables it.
// Unless NoWait is given it waits for AP-ENABLED.
func AddAP(ctx context.Context, g *Global, ifname string, params Params, opts ...Opt) (*AP, error) {
	o := buildOptions(opts)

	if err := g.Remove(ifname); err != nil {
		return nil, err
	}
	if err := g.Add(ifname, o.ctrlDir); err != nil {
		return nil, err
	}

	ap, err := open(o, ifname)
	if err != nil {
		g.Remove(ifname)
		return nil, err
	}
	ap.global = g

	if err := ap.configure(params); err != nil {
		ap.Remove()
		return nil, err
	}

	if err := ap.Enable(); err != nil {
		ap.Remove()
		return nil, err
	}
	if !o.wait {
		return ap, nil
	}

	ev, err := ap.WaitEvent(ctx, o.enableTimeout, "AP-ENABLED", "AP-DISABLED")
	if err != nil {
		ap.Remove()
		if errors.Is(err, wpactrl.ErrEventTimeout) {
			return nil, fmt.Errorf("AP startup timed out: %w", err)
		}
		return nil, err
	}
	if ev.Name != "AP-ENABLED" {
		ap.Remove()
		return nil, fmt.Errorf("%s: %w", ifname, ErrStartupFailed)
	}

	return ap, nil
}

// Open connects to an existing BSS control socket without changing its
// configuration.
func Open(ifname string, opts ...Opt) (*AP, error) {
	return open(buildOptions(opts), ifname)
}

func open(o options, ifname string) (*AP, error) {
	path := filepath.Join(o.ctrlDir, ifname)

	conn, err := wpactrl.Dial(o.localDir, path, o.sockOpts...)
	if err != nil {
		return nil, err
	}
	mon, err := wpactrl.Attach(o.localDir, path, o.sockOpts...)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &AP{
		ifname: ifname,
		conn:   conn,
		mon:    mon,
		logger: o.logger,
	}, nil
}

func (a *AP) configure(params Params) error {
	for _, kv := range defaults {
		if err := a.Set(kv[0], kv[1]); err != nil {
			return err
		}
	}

	for _, f := range priorityFields {
		if v, ok := params[f]; ok {
			if err := a.Set(f, v); err != nil {
				return err
			}
		}
	}

	for _, f := range params.rest() {
		if err := a.Set(f, params[f]); err != nil {
			return err
		}
	}
	return nil
}

// rest returns the non-priority keys in sorted order.
func (p Params) rest() []string {
	skip := make(map[string]bool, len(priorityFields))
	for _, f := range priorityFields {
		skip[f] = true
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
