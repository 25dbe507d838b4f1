package supplicant

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// DefaultWaitTimeout applies to WaitConnected and WaitDisconnected when
// no timeout is given.
const DefaultWaitTimeout = 10 * time.Second

const scanTimeout = 15 * time.Second

// CapaRadioDisabled is the STATUS-DRIVER capa.flags bit set by drivers
// that support SET radio_disabled.
const CapaRadioDisabled = 0x20

// Station is one wpa_supplicant interface.
type Station struct {
	ifname string
	conn   *wpactrl.Conn
	mon    *wpactrl.Monitor
	logger *log.Logger

	mu   sync.Mutex // Protects following.
	addr string
}

// Ifname returns the interface name.
func (s *Station) Ifname() string {
	return s.ifname
}

// Request sends a raw control interface command.
func (s *Station) Request(cmd string) (string, error) {
	s.logger.Printf("%s: CTRL: %s", s.ifname, cmd)
	return s.conn.Request(cmd)
}

// RequestOK sends cmd and requires an OK reply.
func (s *Station) RequestOK(cmd string) error {
	s.logger.Printf("%s: CTRL: %s", s.ifname, cmd)
	return s.conn.RequestOK(cmd)
}

// Ping checks the control interface.
func (s *Station) Ping() error {
	return s.conn.Ping()
}

// Set sets a global wpa_supplicant parameter.
func (s *Station) Set(field, value string) error {
	reply, err := s.Request(fmt.Sprintf("SET %s %s", field, value))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("failed to set wpa_supplicant parameter %s: %q", field, strings.TrimSpace(reply))
	}
	return nil
}

// Note writes msg to the wpa_supplicant debug log.
func (s *Station) Note(msg string) error {
	_, err := s.Request("NOTE " + msg)
	return err
}

func (s *Station) kv(cmd string) (map[string]string, error) {
	reply, err := s.Request(cmd)
	if err != nil {
		return nil, err
	}
	if wpactrl.IsFail(reply) {
		return nil, &wpactrl.ErrFailed{Cmd: cmd, Reply: strings.TrimSpace(reply)}
	}
	return wpactrl.ParseKV([]byte(reply))
}

// Status returns the STATUS reply.
func (s *Station) Status() (map[string]string, error) {
	return s.kv("STATUS")
}

// StatusField returns one STATUS field, or "" when it is not present.
// Fields such as bigtk_set only appear once they apply.
func (s *Station) StatusField(key string) (string, error) {
	kv, err := s.Status()
	if err != nil {
		return "", err
	}
	return kv[key], nil
}

// WPAState returns the wpa_state STATUS field, e.g. COMPLETED.
func (s *Station) WPAState() (string, error) {
	return s.StatusField("wpa_state")
}

// PMF returns the negotiated PMF state, "1" when in use.
func (s *Station) PMF() (string, error) {
	return s.StatusField("pmf")
}

// BigtkSet reports whether a BIGTK has been installed.
func (s *Station) BigtkSet() (bool, error) {
	v, err := s.StatusField("bigtk_set")
	return v == "1", err
}

// SSIDVerified reports whether the SSID was verified with beacon
// protection or the 4-way handshake.
func (s *Station) SSIDVerified() (bool, error) {
	v, err := s.StatusField("ssid_verified")
	return v == "1", err
}

// SSID returns the SSID of the current association with the control
// interface escapes removed.
func (s *Station) SSID() (string, error) {
	v, err := s.StatusField("ssid")
	if err != nil {
		return "", err
	}
	return wpactrl.DecodeSSID([]byte(v))
}

// OwnAddr returns the interface address. It is read once from STATUS.
func (s *Station) OwnAddr() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.addr != "" {
		return s.addr, nil
	}
	addr, err := s.StatusField("address")
	if err != nil {
		return "", err
	}
	if addr == "" {
		return "", fmt.Errorf("%s: STATUS has no address", s.ifname)
	}
	s.addr = addr
	return addr, nil
}

// DriverStatus returns the STATUS-DRIVER reply.
func (s *Station) DriverStatus() (map[string]string, error) {
	return s.kv("STATUS-DRIVER")
}

// DriverStatusField returns one STATUS-DRIVER field.
func (s *Station) DriverStatusField(key string) (string, error) {
	kv, err := s.DriverStatus()
	if err != nil {
		return "", err
	}
	v, ok := kv[key]
	if !ok {
		return "", fmt.Errorf("STATUS-DRIVER: field %q not present", key)
	}
	return v, nil
}

// DriverCapa returns capa.flags from STATUS-DRIVER.
func (s *Station) DriverCapa() (uint64, error) {
	v, err := s.DriverStatusField("capa.flags")
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
}

// GetCapability returns the GET_CAPABILITY reply for field, e.g.
// "CCMP TKIP NONE" for pairwise.
func (s *Station) GetCapability(field string) (string, error) {
	reply, err := s.Request("GET_CAPABILITY " + field)
	if err != nil {
		return "", err
	}
	if wpactrl.IsFail(reply) {
		return "", &wpactrl.ErrFailed{Cmd: "GET_CAPABILITY " + field, Reply: strings.TrimSpace(reply)}
	}
	return strings.TrimSpace(reply), nil
}

// WaitEvent waits for an event containing any of substrs.
func (s *Station) WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (wpactrl.Event, error) {
	return s.mon.WaitEvent(ctx, timeout, substrs...)
}

// DumpMonitor discards pending events.
func (s *Station) DumpMonitor() []wpactrl.Event {
	return s.mon.Dump()
}

func orDefault(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultWaitTimeout
	}
	return d
}

// WaitConnected waits for CTRL-EVENT-CONNECTED.
func (s *Station) WaitConnected(ctx context.Context, timeout time.Duration) (wpactrl.Event, error) {
	ev, err := s.WaitEvent(ctx, orDefault(timeout), "CTRL-EVENT-CONNECTED")
	if err != nil {
		return ev, fmt.Errorf("%s: connection timed out: %w", s.ifname, err)
	}
	return ev, nil
}

// WaitDisconnected waits for CTRL-EVENT-DISCONNECTED and returns it, so
// that the reason and locally_generated fields can be checked.
func (s *Station) WaitDisconnected(ctx context.Context, timeout time.Duration) (wpactrl.Event, error) {
	ev, err := s.WaitEvent(ctx, orDefault(timeout), "CTRL-EVENT-DISCONNECTED")
	if err != nil {
		return ev, fmt.Errorf("%s: disconnection timed out: %w", s.ifname, err)
	}
	return ev, nil
}

// Disconnect disconnects and stays disconnected until Reconnect or
// Reassociate.
func (s *Station) Disconnect() error {
	return s.RequestOK("DISCONNECT")
}

// Reconnect reconnects after Disconnect.
func (s *Station) Reconnect() error {
	return s.RequestOK("RECONNECT")
}

// Reassociate forces a reassociation with the current network.
func (s *Station) Reassociate() error {
	return s.RequestOK("REASSOCIATE")
}

// DropSA drops the PTK without notifying the AP.
func (s *Station) DropSA() error {
	return s.RequestOK("DROP_SA")
}

// UnprotDeauth processes an unprotected Deauthentication frame as
// though it came from the AP.
func (s *Station) UnprotDeauth() error {
	return s.RequestOK("UNPROT_DEAUTH")
}

// WPSReg runs WPS as an external registrar using the AP PIN and waits
// for the resulting connection.
func (s *Station) WPSReg(ctx context.Context, bssid, pin string) error {
	s.DumpMonitor()
	if err := s.RequestOK(fmt.Sprintf("WPS_REG %s %s", bssid, pin)); err != nil {
		return err
	}
	_, err := s.WaitConnected(ctx, scanTimeout)
	return err
}

// SetExtEAPOLFrameIO routes EAPOL frames through EAPOL-TX events and
// EAPOL_RX commands.
func (s *Station) SetExtEAPOLFrameIO(on bool) error {
	return s.Set("ext_eapol_frame_io", boolArg(on))
}

// SetExtMgmtFrameHandling routes received management frames to the
// control interface. Used with AP mode interfaces.
func (s *Station) SetExtMgmtFrameHandling(on bool) error {
	return s.Set("ext_mgmt_frame_handling", boolArg(on))
}

func boolArg(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// EAPOLRx delivers an EAPOL frame, hex encoded, as received from src.
func (s *Station) EAPOLRx(src, msg string) error {
	_, err := s.Request(fmt.Sprintf("EAPOL_RX %s %s", src, msg))
	return err
}

// Deauthenticate sends a Deauthentication frame to addr. AP mode only.
func (s *Station) Deauthenticate(addr string, opts ...wpactrl.DeauthOpt) error {
	return s.RequestOK(wpactrl.FormatDeauth("DEAUTHENTICATE", addr, opts...))
}

// Disassociate sends a Disassociation frame to addr. AP mode only.
func (s *Station) Disassociate(addr string, opts ...wpactrl.DeauthOpt) error {
	return s.RequestOK(wpactrl.FormatDeauth("DISASSOCIATE", addr, opts...))
}

// DataTestConfig enables or disables the DATA_TEST frame path.
func (s *Station) DataTestConfig(on bool) error {
	return s.RequestOK("DATA_TEST_CONFIG " + boolArg(on))
}

// DataTestTx sends a test data frame from src to dst.
func (s *Station) DataTestTx(dst, src string, tos int) error {
	_, err := s.Request(fmt.Sprintf("DATA_TEST_TX %s %s %d", dst, src, tos))
	return err
}

// AllocFail injects an allocation failure, see wpactrl.AllocFail.
func (s *Station) AllocFail(count int, funcs string) (*wpactrl.FailGuard, error) {
	return wpactrl.AllocFail(s, count, funcs)
}

// FailTest injects a function failure, see wpactrl.FailTest.
func (s *Station) FailTest(count int, funcs string) (*wpactrl.FailGuard, error) {
	return wpactrl.FailTest(s, count, funcs)
}

// resetCmds restore the defaults that tests change. Replies are ignored
// since some commands only exist in testing builds.
var resetCmds = []string{
	"REMOVE_NETWORK all",
	"SET ext_mgmt_frame_handling 0",
	"SET ext_eapol_frame_io 0",
	"SET pmf 0",
	"SET reassoc_same_bss_optim 0",
	"SET test_assoc_comeback_type -1",
	"TEST_ALLOC_FAIL 0:",
	"TEST_FAIL 0:",
	"DATA_TEST_CONFIG 0",
	"BSS_FLUSH 0",
}

// Reset returns the interface to its default state between tests.
func (s *Station) Reset() error {
	for _, cmd := range resetCmds {
		if _, err := s.Request(cmd); err != nil {
			return fmt.Errorf("%s: reset: %w", s.ifname, err)
		}
	}
	s.DumpMonitor()
	return nil
}

// Close closes the control and monitor sockets.
func (s *Station) Close() error {
	merr := s.mon.Close()
	if err := s.conn.Close(); err != nil {
		return err
	}
	return merr
}
