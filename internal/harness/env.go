package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/mac80211"
	"github.com/awilliams/hwsim-pmf/internal/monitor"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
	"github.com/awilliams/hwsim-pmf/internal/syscmd"
	"github.com/awilliams/hwsim-pmf/internal/wlantest"
)

// APDev is an AP radio available to tests.
type APDev struct {
	Ifname string `mapstructure:"ifname" yaml:"ifname"`
	// BSSID defaults to the interface address.
	BSSID string `mapstructure:"bssid" yaml:"bssid"`
}

// Topology names the interfaces and sockets of a hwsim setup.
type Topology struct {
	Stations          []string `mapstructure:"stations" yaml:"stations"`
	APs               []APDev  `mapstructure:"aps" yaml:"aps"`
	SupplicantCtrlDir string   `mapstructure:"supplicant_ctrl_dir" yaml:"supplicant_ctrl_dir"`
	HostapdGlobal     string   `mapstructure:"hostapd_global" yaml:"hostapd_global"`
	HostapdCtrlDir    string   `mapstructure:"hostapd_ctrl_dir" yaml:"hostapd_ctrl_dir"`
	// LocalDir holds the client end of every control socket.
	LocalDir string `mapstructure:"local_dir" yaml:"local_dir"`

	// WpasAP is the extra radio run as an AP by a second wpa_supplicant
	// reachable at WpasAPGlobal.
	WpasAP       string `mapstructure:"wpas_ap" yaml:"wpas_ap"`
	WpasAPGlobal string `mapstructure:"wpas_ap_global" yaml:"wpas_ap_global"`

	WlantestCLI    string `mapstructure:"wlantest_cli" yaml:"wlantest_cli"`
	WlantestSocket string `mapstructure:"wlantest_socket" yaml:"wlantest_socket"`
	Debugfs        string `mapstructure:"debugfs" yaml:"debugfs"`
	MonitorFreq    int    `mapstructure:"monitor_freq" yaml:"monitor_freq"`
}

// DefaultTopology is the standard hwsim test setup: stations wlan0-2,
// APs wlan3-4 and wlan5 for wpa_supplicant AP mode.
func DefaultTopology() Topology {
	return Topology{
		Stations: []string{"wlan0", "wlan1", "wlan2"},
		APs: []APDev{
			{Ifname: "wlan3", BSSID: "02:00:00:00:03:00"},
			{Ifname: "wlan4", BSSID: "02:00:00:00:04:00"},
		},
		SupplicantCtrlDir: supplicant.DefaultCtrlDir,
		HostapdGlobal:     hostapd.DefaultGlobalPath,
		HostapdCtrlDir:    hostapd.DefaultCtrlDir,
		WpasAP:            "wlan5",
		WpasAPGlobal:      "/tmp/wpas-wlan5",
		WlantestCLI:       wlantest.DefaultCLI,
		Debugfs:           mac80211.DefaultRoot,
		MonitorFreq:       monitor.DefaultFreq,
	}
}

// Env is an opened topology shared by every test of a run.
type Env struct {
	Dev      []*supplicant.Station
	APDev    []APDev
	Hostapd  *hostapd.Global
	Runner   syscmd.Runner
	Wlantest *wlantest.Client
	Debugfs  mac80211.Debugfs
	Logger   *log.Logger

	Topology Topology
}

// EnvOpt configures Open.
type EnvOpt func(*Env)

// WithLogger sets the logger passed to every device.
func WithLogger(l *log.Logger) EnvOpt {
	return func(e *Env) { e.Logger = l }
}

// WithRunner overrides the command runner.
func WithRunner(r syscmd.Runner) EnvOpt {
	return func(e *Env) { e.Runner = r }
}

// Open connects to every station and to the hostapd global interface.
// Station monitors are attached concurrently.
func Open(ctx context.Context, topo Topology, opts ...EnvOpt) (*Env, error) {
	e := &Env{Topology: topo}
	for _, opt := range opts {
		opt(e)
	}
	if e.Logger == nil {
		e.Logger = log.New(io.Discard, "", 0)
	}
	if e.Runner == nil {
		e.Runner = syscmd.Exec{}
	}
	e.Wlantest = wlantest.New(e.Runner, wlantest.WithCLI(topo.WlantestCLI), wlantest.WithSocket(topo.WlantestSocket))
	e.Debugfs = mac80211.Debugfs{Root: topo.Debugfs}

	for _, ap := range topo.APs {
		if ap.BSSID == "" {
			ifi, err := net.InterfaceByName(ap.Ifname)
			if err != nil {
				return nil, fmt.Errorf("unable to find AP interface %s: %w", ap.Ifname, err)
			}
			ap.BSSID = ifi.HardwareAddr.String()
		}
		e.APDev = append(e.APDev, ap)
	}

	e.Dev = make([]*supplicant.Station, len(topo.Stations))
	eg, _ := errgroup.WithContext(ctx)
	for i, ifname := range topo.Stations {
		i, ifname := i, ifname
		eg.Go(func() error {
			sta, err := supplicant.Open(ifname, e.supplicantOpts()...)
			if err != nil {
				return fmt.Errorf("station %s: %w", ifname, err)
			}
			e.Dev[i] = sta
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		e.Close()
		return nil, err
	}

	g, err := hostapd.DialGlobal(topo.LocalDir, topo.HostapdGlobal)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("hostapd global interface: %w", err)
	}
	e.Hostapd = g

	return e, nil
}

func (e *Env) supplicantOpts() []supplicant.Opt {
	opts := []supplicant.Opt{
		supplicant.WithLocalDir(e.Topology.LocalDir),
		supplicant.WithLogger(e.Logger),
	}
	if e.Topology.SupplicantCtrlDir != "" {
		opts = append(opts, supplicant.WithCtrlDir(e.Topology.SupplicantCtrlDir))
	}
	return opts
}

func (e *Env) hostapdOpts() []hostapd.Opt {
	opts := []hostapd.Opt{
		hostapd.WithLocalDir(e.Topology.LocalDir),
		hostapd.WithLogger(e.Logger),
	}
	if e.Topology.HostapdCtrlDir != "" {
		opts = append(opts, hostapd.WithCtrlDir(e.Topology.HostapdCtrlDir))
	}
	return opts
}

// Reset returns every station to its idle state and drops queued events.
func (e *Env) Reset() error {
	var errs []error
	for _, d := range e.Dev {
		errs = append(errs, d.Reset())
	}
	return errors.Join(errs...)
}

// Close releases every socket.
func (e *Env) Close() error {
	var errs []error
	for _, d := range e.Dev {
		if d != nil {
			errs = append(errs, d.Close())
		}
	}
	if e.Hostapd != nil {
		errs = append(errs, e.Hostapd.Close())
	}
	return errors.Join(errs...)
}
