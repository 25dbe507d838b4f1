package pmf

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/monitor"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_auth",
		Desc: "WPA2-PSK AP with PMF and Authentication frame injection",
		Func: apPMFInjectAuth,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_assoc",
		Desc: "WPA2-PSK with PMF and Association Request frame injection",
		Func: func(ctx context.Context, s *harness.State) {
			runInjectAssoc(ctx, s, false)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_assoc_wps",
		Desc: "WPA2-PSK/WPS with PMF and Association Request frame injection",
		Func: func(ctx context.Context, s *harness.State) {
			runInjectAssoc(ctx, s, true)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_data",
		Desc: "WPA2-PSK AP with PMF and Data frame injection",
		Func: apPMFInjectData,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_msg1",
		Desc: "WPA2-PSK AP with PMF and EAPOL-Key msg 1/4 injection",
		Func: func(ctx context.Context, s *harness.State) {
			runInjectMsg1(ctx, s, true)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_msg1_no_pmf",
		Desc: "WPA2-PSK AP without PMF and EAPOL-Key msg 1/4 injection",
		Func: func(ctx context.Context, s *harness.State) {
			runInjectMsg1(ctx, s, false)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_inject_eap",
		Desc: "WPA2-EAP AP with PMF and EAP frame injection",
		Func: apPMFInjectEAP,
	})
}

const injectSSID = "test-pmf"

// sha256AKM is the AKMSuiteSelector hostapd reports for WPA-PSK-SHA256.
const sha256AKM = "00-0f-ac-6"

// Association Request RSNEs: CCMP with PSK, PSK-SHA256, and PSK-SHA256
// with MFPC and MFPR set plus a PMKID count of zero and BIP group cipher.
var (
	rsnePSK       = frame.MustHex("0100000fac040100000fac040100000fac020000")
	rsnePSKSHA256 = frame.MustHex("0100000fac040100000fac040100000fac060000")
	rsneMFPR      = frame.MustHex("0100000fac040100000fac040100000fac06c0000000000fac06")
)

func rsnIE(info []byte) *layers.Dot11InformationElement {
	return frame.IE(layers.Dot11InformationElementIDRSNInfo, info)
}

// injectPeers returns the parsed AP and station addresses.
func injectPeers(s *harness.State, ap *hostapd.AP, dev *supplicant.Station) (bssid, sta net.HardwareAddr) {
	var err error
	if bssid, err = frame.ParseAddr(ownAddr(s, ap)); err != nil {
		s.Fatal(err)
	}
	if sta, err = frame.ParseAddr(ownAddr(s, dev)); err != nil {
		s.Fatal(err)
	}
	return bssid, sta
}

func mustFrame(s *harness.State, f []byte, err error) []byte {
	if err != nil {
		s.Fatal("Failed to build frame: ", err)
	}
	return f
}

// startInjectAP brings up a PMF-required AP, connects dev[0] and checks
// initial connectivity.
func startInjectAP(ctx context.Context, s *harness.State) (*hostapd.AP, *supplicant.Station) {
	ap := s.AddAP(ctx, 0, requiredParams(injectSSID))
	dev := s.Dev[0]
	connect(ctx, s, dev, injectSSID, staNetwork("2", "WPA-PSK-SHA256"))
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	check(s, harness.RequireConnectivity(ctx, dev, ap))
	return ap, dev
}

// requireAssociated checks the station saw no disconnection within
// timeout and that data still flows.
func requireAssociated(ctx context.Context, s *harness.State, dev *supplicant.Station, ap *hostapd.AP, timeout time.Duration) {
	check(s, harness.RequireNoEvent(ctx, dev, timeout, "Unexpected disconnection reported on the STA", "CTRL-EVENT-DISCONNECTED"))
	check(s, harness.RequireConnectivity(ctx, dev, ap))
}

func requireCompleted(s *harness.State, dev *supplicant.Station, suffix string) {
	state, err := dev.WPAState()
	check(s, err)
	if state != "COMPLETED" {
		s.Fatalf("Unexpected wpa_state%s: %s", suffix, state)
	}
}

// processAll hands each frame to hostapd as received on the medium. All
// frames are attempted before any failure is reported.
func processAll(s *harness.State, ap *hostapd.AP, frames [][]byte) {
	check(s, ap.SetExtMgmtFrameHandling(true))
	var failed error
	for _, f := range frames {
		if err := ap.MgmtRxProcess(f); err != nil && failed == nil {
			failed = err
		}
	}
	check(s, ap.SetExtMgmtFrameHandling(false))
	if failed != nil {
		s.Fatal(failed)
	}
}

func apPMFInjectAuth(ctx context.Context, s *harness.State) {
	ap, dev := startInjectAP(ctx, s)
	bssid, sta := injectPeers(s, ap, dev)

	// The associated STA, another STA, the AP itself, all zeros, all
	// ones and a multicast address.
	sources := []net.HardwareAddr{
		sta,
		frame.MustAddr("021122334455"),
		bssid,
		frame.MustAddr("000000000000"),
		frame.Broadcast,
		frame.MustAddr("010101010101"),
	}

	var auths [][]byte
	for _, sa := range sources {
		f, err := frame.Auth(bssid, sa)
		auths = append(auths, mustFrame(s, f, err))
	}
	processAll(s, ap, auths)
	time.Sleep(100 * time.Millisecond)
	requireAssociated(ctx, s, dev, ap, 100*time.Millisecond)

	var assocs [][]byte
	for _, sa := range sources {
		for _, extra := range [][]*layers.Dot11InformationElement{
			{rsnIE(rsneMFPR)},
			{rsnIE(nil)},
			nil,
		} {
			f, err := frame.AssocReq(bssid, sa, injectSSID, extra...)
			assocs = append(assocs, mustFrame(s, f, err))
		}
	}
	processAll(s, ap, assocs)
	time.Sleep(5 * time.Second)
	requireAssociated(ctx, s, dev, ap, 100*time.Millisecond)
}

// requireMFPSTA checks the AP side station entry still has MFP and the
// SHA256 AKM.
func requireMFPSTA(s *harness.State, ap *hostapd.AP, addr, what string) {
	sta, ok, err := ap.GetSTA(addr)
	check(s, err)
	if !ok {
		s.Fatal("STA entry lost")
	}
	if !sta.HasFlag("MFP") {
		s.Fatal("MFP flag ", what)
	}
	if sta.Fields["AKMSuiteSelector"] != sha256AKM {
		s.Fatal("AKMSuiteSelector value ", what)
	}
}

func runInjectAssoc(ctx context.Context, s *harness.State, wps bool) {
	params := pmfParams(injectSSID, bothAKMs, "1")
	if wps {
		params["eap_server"] = "1"
		params["wps_state"] = "2"
	}
	ap := s.AddAP(ctx, 0, params)
	dev := s.Dev[0]
	connect(ctx, s, dev, injectSSID, staNetwork("2", "WPA-PSK-SHA256"))
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	addr := ownAddr(s, dev)
	requireMFPSTA(s, ap, addr, "not reported")

	bssid, sta := injectPeers(s, ap, dev)
	build := func(extra ...*layers.Dot11InformationElement) []byte {
		f, err := frame.AssocReq(bssid, sta, injectSSID, extra...)
		return mustFrame(s, f, err)
	}
	assoc1 := build(rsnIE(rsnePSK))
	assoc2 := build(rsnIE(rsnePSKSHA256))
	assoc3 := build()

	for i, f := range [][]byte{assoc1, assoc1, assoc2, assoc3, assoc2} {
		if i > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		processAll(s, ap, [][]byte{f})
		requireMFPSTA(s, ap, addr, "changed")
	}

	check(s, harness.RequireNoEvent(ctx, dev, 5100*time.Millisecond,
		"Unexpected disconnection reported on the STA", "CTRL-EVENT-DISCONNECTED"))
	check(s, harness.RequireNoEvent(ctx, ap, 100*time.Millisecond,
		"Unexpected disconnection event received from hostapd", "AP-STA-DISCONNECTED"))
	check(s, harness.RequireConnectivity(ctx, dev, ap))
}

// sniffer returns a monitor socket on the second AP radio for injecting
// frames onto the medium.
func sniffer(ctx context.Context, s *harness.State) *monitor.Socket {
	return s.StartMonitor(ctx, s.APDev[1].Ifname)
}

func send(s *harness.State, sock *monitor.Socket, f []byte, err error) {
	if err := sock.Send(mustFrame(s, f, err)); err != nil {
		s.Fatal("Failed to inject frame: ", err)
	}
}

func apPMFInjectData(ctx context.Context, s *harness.State) {
	ap, dev := startInjectAP(ctx, s)
	sock := sniffer(ctx, s)
	bssid, sta := injectPeers(s, ap, dev)

	// Null Data from broadcast, multicast, the BSSID, the STA and an
	// unknown unicast address.
	for _, sa := range []net.HardwareAddr{
		frame.Broadcast,
		frame.MustAddr("010101010101"),
		bssid,
		sta,
		frame.MustAddr("020102030405"),
	} {
		f, err := frame.NullData(bssid, sa)
		send(s, sock, f, err)
	}
	time.Sleep(100 * time.Millisecond)
	requireAssociated(ctx, s, dev, ap, 100*time.Millisecond)
}

// msg1InvalidKDE is EAPOL-Key message 1/4 with a truncated RSN KDE.
const msg1InvalidKDE = "0203006602008b00100000000000000005bcb714da6f98f817b88948485c26ef052922b795814819f1889ae01e11b486910000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000007" + "dd33000fac0400"

func runInjectMsg1(ctx context.Context, s *harness.State, pmf bool) {
	w := "0"
	params := pmfParams(injectSSID, "WPA-PSK-SHA256", "")
	if pmf {
		w = "2"
		params["ieee80211w"] = w
	}
	ap := s.AddAP(ctx, 0, params)
	dev := s.Dev[0]
	connect(ctx, s, dev, injectSSID, staNetwork(w, "WPA-PSK-SHA256"))
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}

	sock := sniffer(ctx, s)
	bssid, sta := injectPeers(s, ap, dev)
	f, err := frame.EAPOL(frame.ToSTA, sta, bssid, frame.MustHex(msg1InvalidKDE))
	send(s, sock, f, err)

	requireAssociated(ctx, s, dev, ap, 500*time.Millisecond)
	requireCompleted(s, dev, "")
}

// Unprotected EAPOL bodies injected towards a PMF station.
const (
	eapReqIdentity = "02000005012d000501"
	eapReqPSK      = "02000022012e00222f00862406a9b45782fee8a62e837457d1367365727665722e77312e6669"
	eapolLogoff    = "02020000"
	eapolStart     = "02010000"
)

func repeat(body string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = body
	}
	return out
}

// unexpectedEAP collects the events that must not follow an injected
// frame.
type unexpectedEAP struct {
	disconnected, eapStart, eapFailure, apDisconnected bool
}

func (u unexpectedEAP) any() bool {
	return u.disconnected || u.eapStart || u.eapFailure || u.apDisconnected
}

func (u unexpectedEAP) String() string {
	var b strings.Builder
	for _, f := range []struct {
		set  bool
		name string
	}{
		{u.disconnected, "disconnected"},
		{u.eapStart, "eap_start"},
		{u.eapFailure, "eap_failure"},
		{u.apDisconnected, "ap_disconnected"},
	} {
		if f.set {
			b.WriteString(" " + f.name)
		}
	}
	return b.String()
}

// noteInject logs body to the daemon's debug log ahead of its injection.
func noteInject(note func(string) error, body string) error {
	if err := note("Inject " + body); err != nil {
		return fmt.Errorf("note before injecting %s: %w", body, err)
	}
	return nil
}

// injectEAPOL sends each body in dir and records any disconnection or
// EAP state change on dev.
func injectEAPOL(ctx context.Context, s *harness.State, sock *monitor.Socket, note func(string) error,
	dir frame.Direction, sta, bssid net.HardwareAddr, bodies []string, dev *supplicant.Station, u *unexpectedEAP) {
	for _, body := range bodies {
		check(s, noteInject(note, body))
		f, err := frame.EAPOL(dir, sta, bssid, frame.MustHex(body))
		send(s, sock, f, err)
		for i := 0; i < 2; i++ {
			ev, ok, err := harness.WaitOptional(ctx, dev, time.Millisecond,
				"CTRL-EVENT-DISCONNECTED", "CTRL-EVENT-EAP-STARTED", "CTRL-EVENT-EAP-FAILURE")
			check(s, err)
			if !ok {
				break
			}
			switch {
			case ev.Contains("CTRL-EVENT-DISCONNECTED"):
				u.disconnected = true
			case ev.Contains("CTRL-EVENT-EAP-START"):
				u.eapStart = true
			case ev.Contains("CTRL-EVENT-EAP-FAILURE"):
				u.eapFailure = true
			}
		}
	}
}

func apPMFInjectEAP(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-eap"
	params := hostapd.WPA2EAPParams(ssid)
	params["wpa_key_mgmt"] = "WPA-EAP-SHA256"
	params["ieee80211w"] = "2"
	ap := s.AddAP(ctx, 0, params)
	dev := s.Dev[0]
	connect(ctx, s, dev, ssid, supplicant.Network{
		KeyMgmt:     "WPA-EAP-SHA256",
		IEEE80211w:  "2",
		EAP:         "PSK",
		Identity:    eapIdentity,
		PasswordHex: eapPasswordHex,
		ScanFreq:    scanFreq,
	})
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	dev.DumpMonitor()
	ap.DumpMonitor()

	sock := sniffer(ctx, s)
	bssid, sta := injectPeers(s, ap, dev)

	round := func(note func(string) error, dir frame.Direction, bodies []string, suffix string) {
		var u unexpectedEAP
		injectEAPOL(ctx, s, sock, note, dir, sta, bssid, bodies, dev, &u)
		dev.DumpMonitor()
		_, ok, err := harness.WaitOptional(ctx, ap, 100*time.Millisecond, "AP-STA-DISCONNECTED")
		check(s, err)
		u.apDisconnected = ok
		ap.DumpMonitor()
		if u.any() {
			s.Fatalf("Unexpected event%s:%s", suffix, u)
		}
		check(s, harness.RequireConnectivity(ctx, dev, ap))
		requireCompleted(s, dev, suffix)
	}

	var toSTA []string
	toSTA = append(toSTA, repeat(eapReqIdentity, 101)...)
	toSTA = append(toSTA, repeat(eapReqPSK, 101)...)
	toSTA = append(toSTA,
		"0200000404780004",     // EAP-Failure
		"0200000403780004",     // EAP-Success
		"02000006057800060100", // EAP-Initiate
		"0200000406780004",     // EAP-Finish
		"0200000400780004",     // unknown code
		eapolLogoff,
		eapolStart,
	)
	round(dev.Note, frame.ToSTA, toSTA, "")

	toAP := append([]string{eapolLogoff}, repeat(eapolStart, 10)...)
	round(ap.Note, frame.ToAP, toAP, "(2)")
}
