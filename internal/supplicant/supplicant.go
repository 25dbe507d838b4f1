// Package supplicant drives wpa_supplicant interfaces, in station or AP
// mode, through their control sockets.
package supplicant

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// DefaultCtrlDir is where wpa_supplicant creates per-interface sockets.
const DefaultCtrlDir = "/var/run/wpa_supplicant"

// Opt configures Open and DialGlobal.
type Opt func(*options)

type options struct {
	ctrlDir  string
	localDir string
	logger   *log.Logger
	sockOpts []wpactrl.Opt
}

// WithCtrlDir sets the per-interface socket directory.
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

// WithSocketOpts passes options through to the control sockets.
func WithSocketOpts(opts ...wpactrl.Opt) Opt {
	return func(o *options) { o.sockOpts = append(o.sockOpts, opts...) }
}

func buildOptions(opts []Opt) options {
	o := options{ctrlDir: DefaultCtrlDir}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}

// Open connects to the control interface of ifname and attaches a
// monitor for its events.
func Open(ifname string, opts ...Opt) (*Station, error) {
	o := buildOptions(opts)
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

	return &Station{
		ifname: ifname,
		conn:   conn,
		mon:    mon,
		logger: o.logger,
	}, nil
}

// DialGlobal connects to a wpa_supplicant global control interface,
// e.g. /tmp/wpas-wlan5.
func DialGlobal(path string, opts ...Opt) (*Global, error) {
	o := buildOptions(opts)
	conn, err := wpactrl.Dial(o.localDir, path, o.sockOpts...)
	if err != nil {
		return nil, err
	}
	return &Global{conn: conn, opts: opts, ctrlDir: o.ctrlDir}, nil
}

// Global is a wpa_supplicant global control interface.
type Global struct {
	conn    *wpactrl.Conn
	opts    []Opt
	ctrlDir string
}

// Request sends a raw command to the global interface.
func (g *Global) Request(cmd string) (string, error) {
	return g.conn.Request(cmd)
}

// InterfaceAdd adds ifname using the nl80211 driver and opens it.
func (g *Global) InterfaceAdd(ifname string) (*Station, error) {
	cmd := fmt.Sprintf("INTERFACE_ADD %s\t\tnl80211\tDIR=%s", ifname, g.ctrlDir)
	reply, err := g.conn.Request(cmd)
	if err != nil {
		return nil, err
	}
	if wpactrl.IsFail(reply) {
		return nil, fmt.Errorf("failed to add a dynamic wpa_supplicant interface %s: %q", ifname, strings.TrimSpace(reply))
	}
	return Open(ifname, g.opts...)
}

// InterfaceRemove removes a dynamically added interface.
func (g *Global) InterfaceRemove(ifname string) error {
	return g.conn.RequestOK("INTERFACE_REMOVE " + ifname)
}

// Close closes the global control socket.
func (g *Global) Close() error {
	return g.conn.Close()
}
