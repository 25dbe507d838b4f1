package hostapd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl/wpactrltest"

	"github.com/google/go-cmp/cmp"
)

const testBSSID = "02:00:00:00:03:00"

type testEnv struct {
	global *Global
	ctrl   string
	local  string

	globalMsgs wpactrltest.Messages
	bssMsgs    wpactrltest.Messages

	bss        *wpactrltest.Daemon
	bssHandler *wpactrltest.Handler
}

// newTestEnv starts a mock global interface and a mock BSS socket for
// wlan3. ENABLE replies with enableReply and then emits enableEvent
// when it is not empty.
func newTestEnv(t *testing.T, enableReply, enableEvent string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		ctrl:  filepath.Join(dir, "ctrl"),
		local: dir,
	}
	if err := os.Mkdir(env.ctrl, 0o755); err != nil {
		t.Fatal(err)
	}

	gh := wpactrltest.DefaultHandler(map[string]string{
		"ADD":    "OK",
		"REMOVE": "OK",
	})
	gh.OnMessage(env.globalMsgs.Record)
	g := wpactrltest.Start(t, filepath.Join(dir, "global"), gh)

	env.bssHandler = wpactrltest.DefaultHandler(map[string]string{
		"SET":     "OK",
		"STATUS":  wpactrltest.EncodeKV(map[string]string{"state": "ENABLED", "bssid[0]": testBSSID}),
		"DISABLE": "OK",
	})
	env.bssHandler.OnMessage(env.bssMsgs.Record)
	env.bss = wpactrltest.Start(t, filepath.Join(env.ctrl, "wlan3"), env.bssHandler)
	env.bssHandler.Handle("ENABLE", func(string) string {
		if enableEvent != "" {
			env.bss.Emit(enableEvent)
		}
		return enableReply
	})

	var err error
	env.global, err = DialGlobal(dir, g.Addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { env.global.Close() })
	return env
}

func (e *testEnv) addAP(t *testing.T, params Params, opts ...Opt) (*AP, error) {
	t.Helper()
	opts = append([]Opt{WithCtrlDir(e.ctrl), WithLocalDir(e.local)}, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return AddAP(ctx, e.global, "wlan3", params, opts...)
}

func TestAddAP(t *testing.T) {
	env := newTestEnv(t, "OK", "<3>AP-ENABLED ")

	params := WPA2Params("test-pmf-required", "12345678")
	params["wpa_key_mgmt"] = "WPA-PSK-SHA256"
	params["ieee80211w"] = "2"
	params["beacon_int"] = "100"

	ap, err := env.addAP(t, params)
	if err != nil {
		t.Fatal(err)
	}
	defer ap.Close()

	wantGlobal := []string{"REMOVE wlan3", "ADD wlan3 " + env.ctrl}
	var gotGlobal []string
	for _, msg := range env.globalMsgs.All() {
		if msg != "PING" {
			gotGlobal = append(gotGlobal, msg)
		}
	}
	if diff := cmp.Diff(wantGlobal, gotGlobal); diff != "" {
		t.Errorf("global commands (-want +got):\n%s", diff)
	}

	wantSet := []string{
		"SET driver nl80211",
		"SET hw_mode g",
		"SET channel 1",
		"SET ieee80211n 1",
		"SET logger_stdout -1",
		"SET logger_stdout_level 0",
		"SET ssid test-pmf-required",
		"SET wpa_passphrase 12345678",
		"SET wpa_key_mgmt WPA-PSK-SHA256",
		"SET wpa 2",
		"SET rsn_pairwise CCMP",
		"SET beacon_int 100",
		"SET ieee80211w 2",
	}
	if diff := cmp.Diff(wantSet, env.bssMsgs.Matching("SET ")); diff != "" {
		t.Errorf("SET commands (-want +got):\n%s", diff)
	}

	addr, err := ap.OwnAddr()
	if err != nil {
		t.Fatal(err)
	}
	if addr != testBSSID {
		t.Errorf("OwnAddr() = %q, want %q", addr, testBSSID)
	}
}

func TestAddAP_paramError(t *testing.T) {
	env := newTestEnv(t, "OK", "<3>AP-ENABLED ")
	env.bssHandler.Handle("SET", func(args string) string {
		if strings.HasPrefix(args, "rsn_pairwise") {
			return "FAIL"
		}
		return "OK"
	})

	params := WPA2Params("test-pmf", "12345678")
	params["rsn_pairwise"] = "TKIP CCMP"

	_, err := env.addAP(t, params)
	var pe *ParamError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParamError, got %v", err)
	}
	if pe.Field != "rsn_pairwise" || !pe.TKIP() {
		t.Errorf("unexpected ParamError %+v", pe)
	}
	if got := env.globalMsgs.Matching("REMOVE"); len(got) != 2 {
		t.Errorf("expected cleanup REMOVE, got %v", got)
	}
}

func TestAddAP_enable(t *testing.T) {
	cases := []struct {
		name   string
		reply  string
		event  string
		opts   []Opt
		target error
	}{
		{name: "rejected", reply: "FAIL", target: ErrEnableFailed},
		{name: "disabled", reply: "OK", event: "<3>AP-DISABLED ", target: ErrStartupFailed},
		{name: "nowait", reply: "OK", opts: []Opt{NoWait()}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t, c.reply, c.event)
			ap, err := env.addAP(t, WPA2Params("test", "12345678"), c.opts...)
			if c.target == nil {
				if err != nil {
					t.Fatal(err)
				}
				ap.Close()
				return
			}
			if !errors.Is(err, c.target) {
				t.Fatalf("AddAP() = %v, want %v", err, c.target)
			}
		})
	}
}

func TestAP_commands(t *testing.T) {
	env := newTestEnv(t, "OK", "<3>AP-ENABLED ")
	ap, err := env.addAP(t, WPA2Params("test-pmf", "12345678"))
	if err != nil {
		t.Fatal(err)
	}
	defer ap.Close()

	sta := "02:00:00:00:00:00"
	env.bssHandler.Reply("GET_CONFIG", "bssid="+testBSSID+"\nssid=test-pmf\nkey_mgmt=WPA-PSK WPA-PSK-SHA256\n")
	env.bssHandler.Handle("STA", func(args string) string {
		if args != sta {
			return "FAIL"
		}
		return sta + "\nflags=[AUTH][ASSOC][AUTHORIZED][MFP]\nAKMSuiteSelector=00-0f-ac-6\n"
	})
	env.bssHandler.Handle("SA_QUERY", func(args string) string {
		if !wpactrl.IsMAC(args) {
			return "FAIL"
		}
		return "OK"
	})
	for _, cmd := range []string{"DEAUTHENTICATE", "DISASSOCIATE", "MGMT_TX", "MGMT_RX_PROCESS", "SET_KEY", "CHAN_SWITCH", "NOTE", "EAPOL_RX"} {
		env.bssHandler.Reply(cmd, "OK")
	}

	km, err := ap.KeyMgmt()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"WPA-PSK", "WPA-PSK-SHA256"}, km); diff != "" {
		t.Errorf("KeyMgmt (-want +got):\n%s", diff)
	}

	st, ok, err := ap.GetSTA(sta)
	if err != nil || !ok {
		t.Fatalf("GetSTA() = %v, %v", ok, err)
	}
	if !st.HasFlag("MFP") || st.Fields["AKMSuiteSelector"] != "00-0f-ac-6" {
		t.Errorf("unexpected station %+v", st)
	}
	if _, ok, err := ap.GetSTA("02:00:00:00:01:00"); ok || err != nil {
		t.Errorf("GetSTA(unknown) = %v, %v", ok, err)
	}

	if err := ap.SAQuery(sta); err != nil {
		t.Error(err)
	}
	if err := ap.SAQuery("foo"); err == nil {
		t.Error("SAQuery(foo) expected failure")
	}

	if err := ap.Deauthenticate(sta, wpactrl.NoTx()); err != nil {
		t.Error(err)
	}
	if err := ap.Disassociate(wpactrl.BroadcastAddr, wpactrl.Protected(true)); err != nil {
		t.Error(err)
	}

	action, err := frame.Action(frame.MustAddr(sta), frame.MustAddr(testBSSID), frame.MustAddr(testBSSID), frame.MustHex("00042503000608"))
	if err != nil {
		t.Fatal(err)
	}
	if err := ap.MgmtTx(action); err != nil {
		t.Error(err)
	}
	if err := ap.MgmtRxProcess(frame.MustHex("b0003a01")); err != nil {
		t.Error(err)
	}
	if err := ap.SetKey(Key{Alg: AlgNone, Addr: wpactrl.BroadcastAddr, Index: 6, Set: true, Seq: make([]byte, 6), Flags: KeyFlagGroup}); err != nil {
		t.Error(err)
	}
	if err := ap.SetKey(Key{Alg: AlgIGTK, Addr: wpactrl.BroadcastAddr, Index: 6, Set: true, Seq: make([]byte, 6), Key: make([]byte, 16), Flags: KeyFlagGroupTxDefault}); err != nil {
		t.Error(err)
	}
	if err := ap.ChanSwitch(5, 2437, "ht"); err != nil {
		t.Error(err)
	}
	if err := ap.EAPOLRx(sta, "02020000"); err != nil {
		t.Error(err)
	}

	want := []string{
		"DEAUTHENTICATE " + sta + " tx=0",
		"DISASSOCIATE ff:ff:ff:ff:ff:ff test=1",
		"MGMT_TX d0000000" + "020000000000" + "020000000300" + "020000000300" + "0000" + "00042503000608",
		"MGMT_RX_PROCESS freq=2412 datarate=0 ssi_signal=-30 frame=b0003a01",
		"SET_KEY 0 ff:ff:ff:ff:ff:ff 6 1 000000000000  16",
		"SET_KEY 4 ff:ff:ff:ff:ff:ff 6 1 000000000000 00000000000000000000000000000000 26",
		"CHAN_SWITCH 5 2437 ht",
		"EAPOL_RX " + sta + " 02020000",
	}
	var got []string
	for _, msg := range env.bssMsgs.All() {
		for _, prefix := range []string{"DEAUTH", "DISASSOC", "MGMT_", "SET_KEY", "CHAN_SWITCH", "EAPOL_RX"} {
			if strings.HasPrefix(msg, prefix) {
				got = append(got, msg)
			}
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestAP_waits(t *testing.T) {
	env := newTestEnv(t, "OK", "<3>AP-ENABLED ")
	ap, err := env.addAP(t, WPA2Params("test-pmf", "12345678"))
	if err != nil {
		t.Fatal(err)
	}
	defer ap.Close()

	ctx := context.Background()
	sta := "02:00:00:00:00:00"

	env.bss.Emit("<3>AP-STA-CONNECTED " + sta)
	env.bss.Emit("<3>EAPOL-4WAY-HS-COMPLETED " + sta)
	if _, err := ap.WaitSTA(ctx, sta, true); err != nil {
		t.Fatal(err)
	}

	env.bss.Emit("<3>AP-STA-CONNECTED 02:00:00:00:01:00")
	if _, err := ap.WaitSTA(ctx, sta, false); err == nil {
		t.Error("WaitSTA() expected address mismatch")
	}

	env.bss.Emit("<3>AP-STA-DISCONNECTED 02:00:00:00:01:00")
	env.bss.Emit("<3>AP-STA-DISCONNECTED " + sta)
	ev, err := ap.WaitSTADisconnect(ctx, sta, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Arg(1) != sta {
		t.Errorf("unexpected event %q", ev)
	}

	// Deauthentication frame from the STA, as reported with
	// ext_mgmt_frame_handling enabled.
	deauth := "c0003a01" + "020000000300" + "020000000000" + "020000000300" + "1000" + "0300"
	env.bss.Emit("<3>MGMT-RX " + deauth)
	hdr, err := ap.MgmtRx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Subtype() != 12 || hdr.SA.String() != sta {
		t.Errorf("unexpected header %+v", hdr)
	}

	if _, err := ap.WaitSTA(ctx, "", false); !errors.Is(err, wpactrl.ErrEventTimeout) {
		t.Errorf("WaitSTA() = %v, want timeout", err)
	}
}

func TestParams(t *testing.T) {
	p := WPA2EAPParams("test-wpa2-eap")
	want := Params{
		"auth_server_addr":          "127.0.0.1",
		"auth_server_port":          "1812",
		"auth_server_shared_secret": "radius",
		"nas_identifier":            "nas.w1.fi",
		"ssid":                      "test-wpa2-eap",
		"wpa":                       "2",
		"wpa_key_mgmt":              "WPA-EAP",
		"rsn_pairwise":              "CCMP",
		"ieee8021x":                 "1",
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("WPA2EAPParams (-want +got):\n%s", diff)
	}

	c := p.Clone()
	c["ieee80211w"] = "2"
	if _, ok := p["ieee80211w"]; ok {
		t.Error("Clone shares storage")
	}

	if diff := cmp.Diff([]string{"auth_server_port", "auth_server_shared_secret", "ieee8021x"}, p.rest()); diff != "" {
		t.Errorf("rest (-want +got):\n%s", diff)
	}
}
