package hostapd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

const (
	staTimeout   = 2 * time.Second
	hsTimeout    = time.Second
	mgmtRxWindow = 5 * time.Second
)

// AP is one hostapd BSS.
type AP struct {
	ifname string
	conn   *wpactrl.Conn
	mon    *wpactrl.Monitor
	global *Global // Nil when opened with Open.
	logger *log.Logger

	mu    sync.Mutex // Protects following.
	bssid string
}

// Ifname returns the BSS interface name.
func (a *AP) Ifname() string {
	return a.ifname
}

// Request sends a raw control interface command.
func (a *AP) Request(cmd string) (string, error) {
	a.logger.Printf("%s: CTRL: %s", a.ifname, cmd)
	return a.conn.Request(cmd)
}

// RequestOK sends cmd and requires an OK reply.
func (a *AP) RequestOK(cmd string) error {
	a.logger.Printf("%s: CTRL: %s", a.ifname, cmd)
	return a.conn.RequestOK(cmd)
}

// Set sets a configuration or runtime parameter.
func (a *AP) Set(field, value string) error {
	reply, err := a.Request(fmt.Sprintf("SET %s %s", field, value))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return &ParamError{Field: field, Value: value, Reply: strings.TrimSpace(reply)}
	}
	return nil
}

// Enable starts the BSS.
func (a *AP) Enable() error {
	reply, err := a.Request("ENABLE")
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("%w %s: %q", ErrEnableFailed, a.ifname, strings.TrimSpace(reply))
	}
	return nil
}

// Disable stops the BSS, keeping its configuration.
func (a *AP) Disable() error {
	return a.RequestOK("DISABLE")
}

// Ping checks the control interface.
func (a *AP) Ping() error {
	return a.conn.Ping()
}

// Note writes msg to the hostapd debug log.
func (a *AP) Note(msg string) error {
	_, err := a.Request("NOTE " + msg)
	return err
}

func (a *AP) kv(cmd string) (map[string]string, error) {
	reply, err := a.Request(cmd)
	if err != nil {
		return nil, err
	}
	if wpactrl.IsFail(reply) {
		return nil, &wpactrl.ErrFailed{Cmd: cmd, Reply: strings.TrimSpace(reply)}
	}
	return wpactrl.ParseKV([]byte(reply))
}

func field(kv map[string]string, cmd, key string) (string, error) {
	v, ok := kv[key]
	if !ok {
		return "", fmt.Errorf("%s: field %q not present", cmd, key)
	}
	return v, nil
}

// Status returns the STATUS reply.
func (a *AP) Status() (map[string]string, error) {
	return a.kv("STATUS")
}

// StatusField returns one STATUS field.
func (a *AP) StatusField(key string) (string, error) {
	kv, err := a.Status()
	if err != nil {
		return "", err
	}
	return field(kv, "STATUS", key)
}

// DriverStatus returns the STATUS-DRIVER reply, including phyname and
// capa.flags.
func (a *AP) DriverStatus() (map[string]string, error) {
	return a.kv("STATUS-DRIVER")
}

// DriverStatusField returns one STATUS-DRIVER field.
func (a *AP) DriverStatusField(key string) (string, error) {
	kv, err := a.DriverStatus()
	if err != nil {
		return "", err
	}
	return field(kv, "STATUS-DRIVER", key)
}

// OwnAddr returns the BSSID. It is read once from STATUS.
func (a *AP) OwnAddr() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bssid != "" {
		return a.bssid, nil
	}
	bssid, err := a.StatusField("bssid[0]")
	if err != nil {
		return "", err
	}
	a.bssid = bssid
	return bssid, nil
}

// GetConfig returns the GET_CONFIG reply.
func (a *AP) GetConfig() (map[string]string, error) {
	return a.kv("GET_CONFIG")
}

// KeyMgmt returns the enabled AKMs, e.g. [WPA-PSK WPA-PSK-SHA256].
func (a *AP) KeyMgmt() ([]string, error) {
	cfg, err := a.GetConfig()
	if err != nil {
		return nil, err
	}
	km, err := field(cfg, "GET_CONFIG", "key_mgmt")
	if err != nil {
		return nil, err
	}
	return strings.Fields(km), nil
}

// GetSTA returns the station entry for addr. The bool is false when the
// station is not known to hostapd.
func (a *AP) GetSTA(addr string) (wpactrl.Station, bool, error) {
	reply, err := a.Request("STA " + addr)
	if err != nil {
		return wpactrl.Station{}, false, err
	}
	if strings.TrimSpace(reply) == "" || wpactrl.IsFail(reply) {
		return wpactrl.Station{}, false, nil
	}
	sta, err := wpactrl.ParseStation([]byte(reply))
	if err != nil {
		return wpactrl.Station{}, false, err
	}
	return sta, true, nil
}

// WaitEvent waits for an event containing any of substrs.
func (a *AP) WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (wpactrl.Event, error) {
	return a.mon.WaitEvent(ctx, timeout, substrs...)
}

// DumpMonitor discards pending events.
func (a *AP) DumpMonitor() []wpactrl.Event {
	return a.mon.Dump()
}

// WaitSTA waits for AP-STA-CONNECTED, optionally for addr only, and then
// for the 4-way handshake to complete when wait4way is set.
func (a *AP) WaitSTA(ctx context.Context, addr string, wait4way bool) (wpactrl.Event, error) {
	ev, err := a.WaitEvent(ctx, staTimeout, "AP-STA-CONNECTED")
	if err != nil {
		return ev, fmt.Errorf("AP did not report STA connection: %w", err)
	}
	if addr != "" && !ev.Contains(addr) {
		return ev, fmt.Errorf("unexpected STA address in connection event: %s", ev)
	}
	if wait4way {
		if _, err := a.Wait4WayHS(ctx, addr); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// Wait4WayHS waits for EAPOL-4WAY-HS-COMPLETED.
func (a *AP) Wait4WayHS(ctx context.Context, addr string) (wpactrl.Event, error) {
	ev, err := a.WaitEvent(ctx, hsTimeout, "EAPOL-4WAY-HS-COMPLETED")
	if err != nil {
		return ev, fmt.Errorf("hostapd did not report 4-way handshake completion: %w", err)
	}
	if addr != "" && !ev.Contains(addr) {
		return ev, fmt.Errorf("unexpected STA address in 4-way handshake completion event: %s", ev)
	}
	return ev, nil
}

// WaitSTADisconnect waits for AP-STA-DISCONNECTED.
func (a *AP) WaitSTADisconnect(ctx context.Context, addr string, timeout time.Duration) (wpactrl.Event, error) {
	for {
		ev, err := a.WaitEvent(ctx, timeout, "AP-STA-DISCONNECTED")
		if err != nil {
			return ev, err
		}
		if addr == "" || ev.Contains(addr) {
			return ev, nil
		}
	}
}

// SetExtMgmtFrameHandling routes received management frames to the
// control interface as MGMT-RX events instead of processing them.
func (a *AP) SetExtMgmtFrameHandling(on bool) error {
	return a.Set("ext_mgmt_frame_handling", boolArg(on))
}

// SetExtEAPOLFrameIO routes EAPOL frames through EAPOL-TX events and
// EAPOL_RX commands.
func (a *AP) SetExtEAPOLFrameIO(on bool) error {
	return a.Set("ext_eapol_frame_io", boolArg(on))
}

func boolArg(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

// MgmtTx transmits a raw management frame.
func (a *AP) MgmtTx(f []byte) error {
	reply, err := a.Request("MGMT_TX " + frame.Hex(f))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("MGMT_TX command to hostapd failed: %q", strings.TrimSpace(reply))
	}
	return nil
}

// MgmtRx waits for a MGMT-RX event and decodes its frame. External
// management frame handling must be enabled.
func (a *AP) MgmtRx(ctx context.Context) (frame.Header, error) {
	ev, err := a.WaitEvent(ctx, mgmtRxWindow, "MGMT-RX")
	if err != nil {
		return frame.Header{}, err
	}
	b, err := hex.DecodeString(ev.Arg(1))
	if err != nil {
		return frame.Header{}, fmt.Errorf("MGMT-RX frame: %w", err)
	}
	return frame.ParseMgmt(b)
}

// Reception parameters reported with frames injected by MgmtRxProcess.
const (
	rxFreq     = 2412
	rxDatarate = 0
	rxSignal   = -30
)

// MgmtRxProcess hands f to hostapd as if it had been received over the
// air on channel 1.
func (a *AP) MgmtRxProcess(f []byte) error {
	reply, err := a.Request(fmt.Sprintf("MGMT_RX_PROCESS freq=%d datarate=%d ssi_signal=%d frame=%s",
		rxFreq, rxDatarate, rxSignal, frame.Hex(f)))
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("MGMT_RX_PROCESS failed: %q", strings.TrimSpace(reply))
	}
	return nil
}

// EAPOLRx delivers an EAPOL frame, hex encoded, as received from src.
func (a *AP) EAPOLRx(src, msg string) error {
	_, err := a.Request(fmt.Sprintf("EAPOL_RX %s %s", src, msg))
	return err
}

// Deauthenticate sends a Deauthentication frame to addr, or to every
// station for the broadcast address.
func (a *AP) Deauthenticate(addr string, opts ...wpactrl.DeauthOpt) error {
	return a.RequestOK(wpactrl.FormatDeauth("DEAUTHENTICATE", addr, opts...))
}

// Disassociate sends a Disassociation frame to addr.
func (a *AP) Disassociate(addr string, opts ...wpactrl.DeauthOpt) error {
	return a.RequestOK(wpactrl.FormatDeauth("DISASSOCIATE", addr, opts...))
}

// SAQuery starts an SA Query procedure with addr.
func (a *AP) SAQuery(addr string) error {
	return a.RequestOK("SA_QUERY " + addr)
}

// ChanSwitch announces a channel switch, e.g. ChanSwitch(5, 2437, "ht").
func (a *AP) ChanSwitch(count, freq int, extra ...string) error {
	cmd := fmt.Sprintf("CHAN_SWITCH %d %d", count, freq)
	if len(extra) > 0 {
		cmd += " " + strings.Join(extra, " ")
	}
	_, err := a.Request(cmd)
	return err
}

// DataTestConfig enables or disables the DATA_TEST frame path.
func (a *AP) DataTestConfig(on bool) error {
	return a.RequestOK("DATA_TEST_CONFIG " + boolArg(on))
}

// DataTestTx sends a test data frame from src to dst.
func (a *AP) DataTestTx(dst, src string, tos int) error {
	_, err := a.Request(fmt.Sprintf("DATA_TEST_TX %s %s %d", dst, src, tos))
	return err
}

// AllocFail injects an allocation failure, see wpactrl.AllocFail.
func (a *AP) AllocFail(count int, funcs string) (*wpactrl.FailGuard, error) {
	return wpactrl.AllocFail(a, count, funcs)
}

// FailTest injects a function failure, see wpactrl.FailTest.
func (a *AP) FailTest(count int, funcs string) (*wpactrl.FailGuard, error) {
	return wpactrl.FailTest(a, count, funcs)
}

// Close closes the control and monitor sockets. The BSS keeps running.
func (a *AP) Close() error {
	merr := a.mon.Close()
	if err := a.conn.Close(); err != nil {
		return err
	}
	return merr
}

// Remove closes the sockets and removes the BSS through the global
// control interface.
func (a *AP) Remove() error {
	cerr := a.Close()
	if a.global == nil {
		return cerr
	}
	if err := a.global.Remove(a.ifname); err != nil {
		return err
	}
	return cerr
}
