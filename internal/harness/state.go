package harness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/mac80211"
	"github.com/awilliams/hwsim-pmf/internal/monitor"
	"github.com/awilliams/hwsim-pmf/internal/report"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
	"github.com/awilliams/hwsim-pmf/internal/syscmd"
	"github.com/awilliams/hwsim-pmf/internal/wlantest"
)

// cleanupTimeout bounds each cleanup function's context.
const cleanupTimeout = 10 * time.Second

// SkipError marks a test as skipped because a prerequisite is missing.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skip: " + e.Reason
}

// Skip returns a *SkipError for reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// State is passed to a running test. Fatal, Skip and their variants
// end the test and must be called from the test's goroutine.
type State struct {
	Dev   []*supplicant.Station
	APDev []APDev

	name   string
	env    *Env
	logger *log.Logger

	mu       sync.Mutex // Protects following.
	status   report.Status
	msgs     []string
	cleanups []func(ctx context.Context)
}

func newState(name string, env *Env) *State {
	return &State{
		Dev:    env.Dev,
		APDev:  env.APDev,
		name:   name,
		env:    env,
		logger: env.Logger,
		status: report.StatusPass,
	}
}

// Name returns the test name.
func (s *State) Name() string {
	return s.name
}

// Logf logs a formatted message prefixed with the test name.
func (s *State) Logf(format string, args ...interface{}) {
	s.logger.Printf("%s: %s", s.name, fmt.Sprintf(format, args...))
}

// Log logs args prefixed with the test name.
func (s *State) Log(args ...interface{}) {
	s.logger.Printf("%s: %s", s.name, fmt.Sprint(args...))
}

func (s *State) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = report.StatusFail
	s.msgs = append(s.msgs, msg)
}

// Errorf marks the test failed and continues.
func (s *State) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Log("Error: ", msg)
	s.fail(msg)
}

// Error marks the test failed and continues.
func (s *State) Error(args ...interface{}) {
	msg := fmt.Sprint(args...)
	s.Log("Error: ", msg)
	s.fail(msg)
}

// Fatalf marks the test failed and stops it.
func (s *State) Fatalf(format string, args ...interface{}) {
	s.Errorf(format, args...)
	runtime.Goexit()
}

// Fatal marks the test failed and stops it. A *SkipError skips the test
// instead.
func (s *State) Fatal(args ...interface{}) {
	if len(args) == 1 {
		if err, ok := args[0].(error); ok {
			var se *SkipError
			if errors.As(err, &se) {
				s.Skipf("%s", se.Reason)
			}
		}
	}
	s.Error(args...)
	runtime.Goexit()
}

// Skipf marks the test skipped and stops it. A test that already failed
// stays failed.
func (s *State) Skipf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Log("Skip: ", msg)
	s.mu.Lock()
	if s.status != report.StatusFail {
		s.status = report.StatusSkip
		s.msgs = append(s.msgs, msg)
	}
	s.mu.Unlock()
	runtime.Goexit()
}

// Failed reports whether the test has failed.
func (s *State) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == report.StatusFail
}

func (s *State) result() (report.Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, strings.Join(s.msgs, "; ")
}

// Cleanup registers f to run after the test, in reverse registration
// order.
func (s *State) Cleanup(f func(ctx context.Context)) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, f)
	s.mu.Unlock()
}

func (s *State) runCleanups() {
	for {
		s.mu.Lock()
		n := len(s.cleanups)
		if n == 0 {
			s.mu.Unlock()
			return
		}
		f := s.cleanups[n-1]
		s.cleanups = s.cleanups[:n-1]
		s.mu.Unlock()

		func() {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			defer func() {
				if p := recover(); p != nil {
					s.fail(fmt.Sprintf("cleanup panic: %v", p))
				}
			}()
			f(ctx)
		}()
	}
}

// Runner returns the command runner.
func (s *State) Runner() syscmd.Runner {
	return s.env.Runner
}

// Wlantest returns the sniffer client.
func (s *State) Wlantest() *wlantest.Client {
	return s.env.Wlantest
}

// Debugfs returns the mac80211 debugfs reader.
func (s *State) Debugfs() mac80211.Debugfs {
	return s.env.Debugfs
}

// StartAP starts a BSS on APDev[i]. The BSS is removed when the test
// ends.
func (s *State) StartAP(ctx context.Context, i int, params hostapd.Params, opts ...hostapd.Opt) (*hostapd.AP, error) {
	if i >= len(s.APDev) {
		return nil, fmt.Errorf("no AP device %d", i)
	}
	ifname := s.APDev[i].Ifname
	ap, err := hostapd.AddAP(ctx, s.env.Hostapd, ifname, params, append(s.env.hostapdOpts(), opts...)...)
	if err != nil {
		return nil, err
	}
	s.Cleanup(func(context.Context) {
		if err := ap.Remove(); err != nil {
			s.Logf("remove %s: %v", ifname, err)
		}
	})
	return ap, nil
}

// AddAP is StartAP that fails the test on error.
func (s *State) AddAP(ctx context.Context, i int, params hostapd.Params, opts ...hostapd.Opt) *hostapd.AP {
	ap, err := s.StartAP(ctx, i, params, opts...)
	if err != nil {
		s.Fatal("Failed to start AP: ", err)
	}
	return ap
}

// StartMonitor switches ifname to monitor mode for frame injection. The
// interface returns to managed mode when the test ends.
func (s *State) StartMonitor(ctx context.Context, ifname string) *monitor.Socket {
	sock, err := monitor.Start(ctx, s.env.Runner, ifname, s.env.Topology.MonitorFreq, monitor.WithLogger(s.logger))
	if err != nil {
		s.Fatal("Failed to start monitor interface: ", err)
	}
	s.Cleanup(func(ctx context.Context) {
		if err := sock.Stop(ctx); err != nil {
			s.Logf("stop monitor %s: %v", ifname, err)
		}
	})
	return sock
}

// wpasAPPSK is the passphrase of the wpa_supplicant AP network.
const wpasAPPSK = "12345678"

// StartWpasAP adds the extra radio to the second wpa_supplicant and
// starts a PMF-required WPA2-PSK-SHA256 AP for ssid on 2412 MHz.
func (s *State) StartWpasAP(ctx context.Context, ssid string) *supplicant.Station {
	topo := s.env.Topology
	g, err := supplicant.DialGlobal(topo.WpasAPGlobal, s.env.supplicantOpts()...)
	if err != nil {
		s.Fatal("Failed to connect to wpa_supplicant global interface: ", err)
	}
	s.Cleanup(func(context.Context) { g.Close() })

	wpas, err := g.InterfaceAdd(topo.WpasAP)
	if err != nil {
		s.Fatal(err)
	}
	s.Cleanup(func(context.Context) {
		wpas.Close()
		if err := g.InterfaceRemove(topo.WpasAP); err != nil {
			s.Logf("remove %s: %v", topo.WpasAP, err)
		}
	})

	_, err = wpas.Connect(ctx, ssid, supplicant.Network{
		Proto:      "WPA2",
		KeyMgmt:    "WPA-PSK-SHA256",
		IEEE80211w: "2",
		PSK:        wpasAPPSK,
		Pairwise:   "CCMP",
		Group:      "CCMP",
		ScanFreq:   "2412",
		Extra: map[string]string{
			"mode":      "2",
			"frequency": "2412",
		},
	})
	if err != nil {
		s.Fatal("Failed to start wpa_supplicant AP: ", err)
	}
	wpas.DumpMonitor()
	return wpas
}
