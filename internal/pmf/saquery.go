package pmf

import (
	"context"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/wlantest"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query",
		Desc: "WPA2-PSK AP with station using SA Query",
		Func: func(ctx context.Context, s *harness.State) {
			runSTASAQuery(ctx, s, startWpasSAQuery(ctx, s, comebackSSID))
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query_no_response",
		Desc: "WPA2-PSK AP with station using SA Query and getting no response",
		Func: apPMFSTASAQueryNoResponse,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_unprot_deauth_burst",
		Desc: "WPA2-PSK AP with station receiving burst of unprotected Deauthentication frames",
		Func: func(ctx context.Context, s *harness.State) {
			runUnprotDeauthBurst(ctx, s, startWpasSAQuery(ctx, s, "deauth-attack"))
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query_oom",
		Desc: "WPA2-PSK AP with station using SA Query (OOM)",
		Func: func(ctx context.Context, s *harness.State) {
			runSAQueryFailure(ctx, s, true)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query_local_failure",
		Desc: "WPA2-PSK AP with station using SA Query (local failure)",
		Func: func(ctx context.Context, s *harness.State) {
			runSAQueryFailure(ctx, s, false)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query_hostapd",
		Desc: "WPA2-PSK AP with station using SA Query (hostapd)",
		Func: func(ctx context.Context, s *harness.State) {
			runSTASAQuery(ctx, s, startHostapdSAQuery(ctx, s, comebackSSID))
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_sa_query_no_response_hostapd",
		Desc: "WPA2-PSK AP with station using SA Query and getting no response (hostapd)",
		Func: apPMFSTASAQueryNoResponseHostapd,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_unprot_deauth_burst_hostapd",
		Desc: "WPA2-PSK AP with station receiving burst of unprotected Deauthentication frames (hostapd)",
		Func: func(ctx context.Context, s *harness.State) {
			runUnprotDeauthBurst(ctx, s, startHostapdSAQuery(ctx, s, "deauth-attack"))
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sa_query_timeout",
		Desc: "SA Query timeout",
		Func: apPMFSAQueryTimeout,
	})
}

// unprotSender is an AP that can send unprotected Deauthentication and
// Disassociation frames: hostapd or wpa_supplicant in AP mode.
type unprotSender interface {
	Deauthenticate(addr string, opts ...wpactrl.DeauthOpt) error
	Disassociate(addr string, opts ...wpactrl.DeauthOpt) error
	SetExtMgmtFrameHandling(on bool) error
	DumpMonitor() []wpactrl.Event
}

// saQuerySetup is an AP with dev[0] associated using PMF.
type saQuerySetup struct {
	ap          unprotSender
	bssid, addr string
	wt          *wlantest.Client
}

func startWpasSAQuery(ctx context.Context, s *harness.State, ssid string) saQuerySetup {
	addr := ownAddr(s, s.Dev[0])
	wpas := s.StartWpasAP(ctx, ssid)
	bssid := ownAddr(s, wpas)
	wt := sniff(ctx, s)
	connect(ctx, s, s.Dev[0], ssid, optionalSTA())
	wpas.DumpMonitor()
	return saQuerySetup{ap: wpas, bssid: bssid, addr: addr, wt: wt}
}

func startHostapdSAQuery(ctx context.Context, s *harness.State, ssid string) saQuerySetup {
	addr := ownAddr(s, s.Dev[0])
	ap := s.AddAP(ctx, 0, requiredParams(ssid))
	bssid := ownAddr(s, ap)
	wt := sniff(ctx, s)
	connect(ctx, s, s.Dev[0], ssid, staNetwork("2", "WPA-PSK-SHA256"))
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	return saQuerySetup{ap: ap, bssid: bssid, addr: addr, wt: wt}
}

// sendUnprotPair sends an unprotected Deauthentication and then an
// unprotected Disassociation to the station. reasons is either empty
// or the two reason codes.
func sendUnprotPair(s *harness.State, su saQuerySetup, reasons ...int) {
	deauth := []wpactrl.DeauthOpt{wpactrl.Protected(false)}
	disassoc := []wpactrl.DeauthOpt{wpactrl.Protected(false)}
	if len(reasons) == 2 {
		deauth = append(deauth, wpactrl.Reason(reasons[0]))
		disassoc = append(disassoc, wpactrl.Reason(reasons[1]))
	}
	if err := su.ap.Deauthenticate(su.addr, deauth...); err != nil {
		s.Fatal("Failed to send unprotected disconnection messages: ", err)
	}
	su.ap.DumpMonitor()
	if err := su.ap.Disassociate(su.addr, disassoc...); err != nil {
		s.Fatal("Failed to send unprotected disconnection messages: ", err)
	}
	su.ap.DumpMonitor()
}

func requireStillConnected(ctx context.Context, s *harness.State) {
	check(s, harness.RequireNoEvent(ctx, s.Dev[0], disconnectTimeout, "Unexpected disconnection", "CTRL-EVENT-DISCONNECTED"))
}

// class3Reasons are the reason codes for a Class 2 and a Class 3 frame
// received from a nonassociated station.
var class3Reasons = []int{6, 7}

func saQueryCounts(ctx context.Context, s *harness.State, su saQuerySetup) (req, resp int) {
	req = staCounter(ctx, s, su.wt, "valid_saqueryreq_tx", su.bssid, su.addr)
	resp = staCounter(ctx, s, su.wt, "valid_saqueryresp_rx", su.bssid, su.addr)
	return req, resp
}

func runSTASAQuery(ctx context.Context, s *harness.State, su saQuerySetup) {
	sendUnprotPair(s, su)
	requireStillConnected(ctx, s)

	sendUnprotPair(s, su, class3Reasons...)
	requireStillConnected(ctx, s)
	req, resp := saQueryCounts(ctx, s, su)
	if req < 1 {
		s.Fatal("STA did not send SA Query")
	}
	if resp < 1 {
		s.Fatal("AP did not reply to SA Query")
	}
	su.ap.DumpMonitor()
}

func apPMFSTASAQueryNoResponse(ctx context.Context, s *harness.State) {
	su := startWpasSAQuery(ctx, s, comebackSSID)
	dev := s.Dev[0]
	sendUnprotPair(s, su)
	requireStillConnected(ctx, s)

	check(s, su.ap.SetExtMgmtFrameHandling(true))
	sendUnprotPair(s, su, class3Reasons...)
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	su.ap.DumpMonitor()
	check(s, su.ap.SetExtMgmtFrameHandling(false))
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	su.ap.DumpMonitor()
}

func apPMFSTASAQueryNoResponseHostapd(ctx context.Context, s *harness.State) {
	su := startHostapdSAQuery(ctx, s, comebackSSID)
	dev := s.Dev[0]

	check(s, su.ap.SetExtMgmtFrameHandling(true))
	sendUnprotPair(s, su, class3Reasons...)
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	check(s, su.ap.SetExtMgmtFrameHandling(false))
	req, resp := saQueryCounts(ctx, s, su)
	if req < 1 {
		s.Fatal("STA did not send SA Query")
	}
	if resp > 0 {
		s.Fatal("AP replied to SA Query")
	}
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
}

// runUnprotDeauthBurst checks that a burst of unprotected frames starts
// a single SA Query procedure and that a later burst starts exactly one
// more.
func runUnprotDeauthBurst(ctx context.Context, s *harness.State, su saQuerySetup) {
	burst := func(n int) {
		for i := 0; i < n; i++ {
			sendUnprotPair(s, su, class3Reasons...)
		}
		requireStillConnected(ctx, s)
	}

	burst(10)
	req, resp := saQueryCounts(ctx, s, su)
	if req < 1 {
		s.Fatal("STA did not send SA Query")
	}
	if resp < 1 {
		s.Fatal("AP did not reply to SA Query")
	}
	if req > 1 {
		s.Fatalf("STA initiated too many SA Query procedures (%d)", req)
	}

	time.Sleep(10 * time.Second)
	burst(5)
	req, resp = saQueryCounts(ctx, s, su)
	if req != 2 || resp != 2 {
		s.Fatalf("Unexpected number of SA Query procedures (req=%d resp=%d)", req, resp)
	}
}

// runSAQueryFailure injects an allocation (oom) or local function
// failure into the station's SA Query timer.
func runSAQueryFailure(ctx context.Context, s *harness.State, oom bool) {
	dev := s.Dev[0]
	addr := ownAddr(s, dev)
	wpas := s.StartWpasAP(ctx, comebackSSID)
	connect(ctx, s, dev, comebackSSID, optionalSTA())

	var (
		g   *wpactrl.FailGuard
		err error
	)
	if oom {
		g, err = dev.AllocFail(1, "=sme_sa_query_timer")
	} else {
		g, err = dev.FailTest(1, "os_get_random;sme_sa_query_timer")
	}
	if err != nil {
		s.Fatal("Failed to inject failure: ", err)
	}
	defer g.Close()

	check(s, wpas.Deauthenticate(addr, wpactrl.Reason(6), wpactrl.Protected(false)))
	check(s, g.Wait(ctx))
	check(s, dev.Disconnect())
	check(s, wpas.Disconnect())
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
}

func apPMFSAQueryTimeout(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required"
	ap := s.AddAP(ctx, 0, requiredParams(ssid))
	dev := s.Dev[0]
	connect(ctx, s, dev, ssid, staNetwork("2", "WPA-PSK-SHA256"))

	check(s, ap.SetExtMgmtFrameHandling(true))
	if err := dev.UnprotDeauth(); err != nil {
		s.Fatal("Triggering SA Query from the STA failed: ", err)
	}
	if _, err := dev.WaitDisconnected(ctx, 2*time.Second); err != nil {
		s.Fatal("No disconnection on SA Query timeout seen: ", err)
	}
	check(s, ap.SetExtMgmtFrameHandling(false))
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	dev.DumpMonitor()

	// The SA Query Request is dropped and the station reconnects before
	// its SA Query timer fires.
	check(s, ap.SetExtMgmtFrameHandling(true))
	if err := dev.UnprotDeauth(); err != nil {
		s.Fatal("Triggering SA Query from the STA failed: ", err)
	}
	if _, err := ap.MgmtRx(ctx); err != nil {
		s.Fatal(err)
	}
	check(s, ap.SetExtMgmtFrameHandling(false))
	check(s, dev.Disconnect())
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	check(s, dev.Reconnect())
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	check(s, ap.SetExtMgmtFrameHandling(true))
	check(s, harness.RequireNoEvent(ctx, dev, 1500*time.Millisecond,
		"Unexpected disconnection after reconnection seen", "CTRL-EVENT-DISCONNECTED"))
}
