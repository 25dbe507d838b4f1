package supplicant

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl/wpactrltest"

	"github.com/google/go-cmp/cmp"
)

const testAddr = "02:00:00:00:00:00"

type mockSTA struct {
	dir     string
	daemon  *wpactrltest.Daemon
	handler *wpactrltest.Handler
	msgs    wpactrltest.Messages
}

// newMockSTA serves a wlan0 interface that connects on SELECT_NETWORK.
func newMockSTA(t *testing.T) (*Station, *mockSTA) {
	t.Helper()

	m := &mockSTA{dir: t.TempDir()}
	m.handler = wpactrltest.DefaultHandler(map[string]string{
		"ADD_NETWORK":    "0\n",
		"SET_NETWORK":    "OK",
		"SET":            "OK",
		"REMOVE_NETWORK": "OK",
		"STATUS": wpactrltest.EncodeKV(map[string]string{
			"address":   testAddr,
			"wpa_state": "COMPLETED",
			"ssid":      `pmf\xcf\x89`,
			"pmf":       "1",
			"bigtk_set": "1",
		}),
		"STATUS-DRIVER": "ifname=wlan0\nphyname=phy0\ncapa.flags=0x2000020\n",
	})
	m.handler.OnMessage(m.msgs.Record)
	m.handler.OnUndef(func(string) string { return "OK" })
	m.daemon = wpactrltest.Start(t, filepath.Join(m.dir, "wlan0"), m.handler)
	m.handler.Handle("SELECT_NETWORK", func(string) string {
		m.daemon.Emit("<3>CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed [id=0 id_str=]")
		return "OK"
	})

	st, err := Open("wlan0", WithCtrlDir(m.dir), WithLocalDir(m.dir))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st, m
}

func TestConnect(t *testing.T) {
	st, m := newMockSTA(t)

	id, err := st.Connect(context.Background(), "test-pmf-required-eap", Network{
		KeyMgmt:     "WPA-EAP-SHA256",
		IEEE80211w:  "2",
		EAP:         "PSK",
		Identity:    "psk.user@example.com",
		PasswordHex: "0123456789abcdef0123456789abcdef",
		ScanFreq:    "2412",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Errorf("id = %d, want 0", id)
	}

	want := []string{
		`SET_NETWORK 0 ssid "test-pmf-required-eap"`,
		`SET_NETWORK 0 identity "psk.user@example.com"`,
		"SET_NETWORK 0 key_mgmt WPA-EAP-SHA256",
		"SET_NETWORK 0 ieee80211w 2",
		"SET_NETWORK 0 scan_freq 2412",
		"SET_NETWORK 0 eap PSK",
		"SET_NETWORK 0 password hex:0123456789abcdef0123456789abcdef",
	}
	if diff := cmp.Diff(want, m.msgs.Matching("SET_NETWORK")); diff != "" {
		t.Errorf("SET_NETWORK (-want +got):\n%s", diff)
	}
	if got := m.msgs.Matching("SELECT_NETWORK"); len(got) != 1 || got[0] != "SELECT_NETWORK 0" {
		t.Errorf("SELECT_NETWORK = %v", got)
	}
}

func TestConnect_noWait(t *testing.T) {
	st, m := newMockSTA(t)
	m.handler.Reply("SELECT_NETWORK", "OK")

	ctx := context.Background()
	if _, err := st.Connect(ctx, "test-pmf", Network{PSK: "12345678", NoWait: true, Extra: map[string]string{"mode": "2"}}); err != nil {
		t.Fatal(err)
	}
	want := []string{`SET_NETWORK 0 ssid "test-pmf"`, `SET_NETWORK 0 psk "12345678"`, "SET_NETWORK 0 mode 2"}
	if diff := cmp.Diff(want, m.msgs.Matching("SET_NETWORK")); diff != "" {
		t.Errorf("SET_NETWORK (-want +got):\n%s", diff)
	}

	m.handler.Reply("ADD_NETWORK", "FAIL")
	if _, err := st.Connect(ctx, "x", Network{}); err == nil {
		t.Error("expected ADD_NETWORK failure")
	}
}

func TestConnect_timeout(t *testing.T) {
	st, m := newMockSTA(t)
	m.handler.Reply("SELECT_NETWORK", "OK")

	_, err := st.Connect(context.Background(), "test-pmf", Network{Timeout: 50 * time.Millisecond})
	if !errors.Is(err, wpactrl.ErrEventTimeout) {
		t.Errorf("Connect() = %v, want timeout", err)
	}
}

func TestStation_status(t *testing.T) {
	st, _ := newMockSTA(t)

	addr, err := st.OwnAddr()
	if err != nil || addr != testAddr {
		t.Errorf("OwnAddr() = %q, %v", addr, err)
	}
	if v, _ := st.WPAState(); v != "COMPLETED" {
		t.Errorf("WPAState() = %q", v)
	}
	if v, _ := st.SSID(); v != "pmfω" {
		t.Errorf("SSID() = %q", v)
	}
	if v, _ := st.PMF(); v != "1" {
		t.Errorf("PMF() = %q", v)
	}
	if ok, _ := st.BigtkSet(); !ok {
		t.Error("BigtkSet() = false")
	}
	if ok, _ := st.SSIDVerified(); ok {
		t.Error("SSIDVerified() = true")
	}

	capa, err := st.DriverCapa()
	if err != nil {
		t.Fatal(err)
	}
	if capa&CapaRadioDisabled == 0 {
		t.Errorf("capa = %#x, radio_disabled bit unset", capa)
	}
	if phy, _ := st.DriverStatusField("phyname"); phy != "phy0" {
		t.Errorf("phyname = %q", phy)
	}
	if _, err := st.DriverStatusField("nope"); err == nil {
		t.Error("expected missing field error")
	}
}

func TestStation_waitDisconnected(t *testing.T) {
	st, m := newMockSTA(t)

	m.daemon.Emit("<3>CTRL-EVENT-SCAN-STARTED ")
	m.daemon.Emit("<3>CTRL-EVENT-DISCONNECTED bssid=02:00:00:00:03:00 reason=23 locally_generated=1")

	ev, err := st.WaitDisconnected(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := ev.Field("reason"); r != "23" {
		t.Errorf("reason = %q", r)
	}
	if !ev.LocallyGenerated() {
		t.Error("expected locally generated")
	}
}

func TestStation_commands(t *testing.T) {
	st, m := newMockSTA(t)
	m.handler.Reply("GET_CAPABILITY", "CCMP TKIP NONE")
	m.handler.Reply("SET", "FAIL")

	if c, _ := st.GetCapability("pairwise"); !strings.Contains(c, "TKIP") {
		t.Errorf("GetCapability() = %q", c)
	}
	if err := st.Set("pmf", "2"); err == nil {
		t.Error("expected Set failure")
	}

	calls := []func() error{
		st.DropSA,
		st.Reassociate,
		st.Reconnect,
		st.Disconnect,
		st.UnprotDeauth,
		func() error { return st.Deauthenticate(testAddr, wpactrl.Reason(6), wpactrl.Protected(false)) },
		func() error { return st.Disassociate(testAddr, wpactrl.Reason(7), wpactrl.Protected(false)) },
		func() error { return st.EAPOLRx("02:00:00:00:03:00", "02020000") },
		func() error { return st.DataTestTx(wpactrl.BroadcastAddr, testAddr, 0) },
	}
	for _, c := range calls {
		if err := c(); err != nil {
			t.Error(err)
		}
	}

	want := []string{
		"DROP_SA",
		"REASSOCIATE",
		"RECONNECT",
		"DISCONNECT",
		"UNPROT_DEAUTH",
		"DEAUTHENTICATE " + testAddr + " reason=6 test=0",
		"DISASSOCIATE " + testAddr + " reason=7 test=0",
		"EAPOL_RX 02:00:00:00:03:00 02020000",
		"DATA_TEST_TX ff:ff:ff:ff:ff:ff " + testAddr + " 0",
	}
	all := m.msgs.All()
	got := all[len(all)-len(want):]
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestStation_reset(t *testing.T) {
	st, m := newMockSTA(t)
	m.daemon.Emit("<3>CTRL-EVENT-BEACON-LOSS ")

	if err := st.Reset(); err != nil {
		t.Fatal(err)
	}
	all := m.msgs.All()
	if diff := cmp.Diff(resetCmds, all[len(all)-len(resetCmds):]); diff != "" {
		t.Errorf("reset commands (-want +got):\n%s", diff)
	}
}

func TestStation_scanForBSS(t *testing.T) {
	st, m := newMockSTA(t)
	bssid := "02:00:00:00:03:00"

	var scans atomic.Int32
	m.handler.Handle("SCAN", func(string) string {
		scans.Add(1)
		m.daemon.Emit("<3>CTRL-EVENT-SCAN-RESULTS ")
		return "OK"
	})
	m.handler.Handle("BSS", func(args string) string {
		if args != bssid || scans.Load() < 2 {
			return ""
		}
		return "id=1\nbssid=" + bssid + "\nfreq=2412\n"
	})

	if err := st.ScanForBSS(context.Background(), bssid, 2412); err != nil {
		t.Fatal(err)
	}
	if n := scans.Load(); n != 2 {
		t.Errorf("scans = %d, want 2", n)
	}
	if got := m.msgs.Matching("SCAN"); got[0] != "SCAN freq=2412" {
		t.Errorf("SCAN = %v", got)
	}

	err := st.ScanForBSS(context.Background(), "02:00:00:00:04:00", 2412)
	if !errors.Is(err, ErrBSSNotFound) {
		t.Errorf("ScanForBSS() = %v, want ErrBSSNotFound", err)
	}
}

func TestGlobal_interfaceAdd(t *testing.T) {
	dir := t.TempDir()
	var msgs wpactrltest.Messages
	gh := wpactrltest.DefaultHandler(map[string]string{"INTERFACE_ADD": "OK", "INTERFACE_REMOVE": "OK"})
	gh.OnMessage(msgs.Record)
	g := wpactrltest.Start(t, filepath.Join(dir, "wpas-wlan5"), gh)
	wpactrltest.Start(t, filepath.Join(dir, "wlan5"), wpactrltest.DefaultHandler(nil))

	global, err := DialGlobal(g.Addr, WithCtrlDir(dir), WithLocalDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer global.Close()

	st, err := global.InterfaceAdd("wlan5")
	if err != nil {
		t.Fatal(err)
	}
	st.Close()
	if err := global.InterfaceRemove("wlan5"); err != nil {
		t.Fatal(err)
	}

	want := []string{"INTERFACE_ADD wlan5\t\tnl80211\tDIR=" + dir, "INTERFACE_REMOVE wlan5"}
	if diff := cmp.Diff(want, msgs.Matching("INTERFACE_")); diff != "" {
		t.Errorf("global commands (-want +got):\n%s", diff)
	}
}
