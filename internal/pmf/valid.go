package pmf

import (
	"context"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_ap_dropping_sa",
		Desc: "WPA2-PSK PMF AP dropping SA",
		Func: apPMFAPDroppingSA,
	})
	for _, v := range []struct {
		name, desc          string
		disassoc, broadcast bool
	}{
		{"ap_pmf_valid_broadcast_deauth", "broadcast deauth", false, true},
		{"ap_pmf_valid_broadcast_disassoc", "broadcast disassoc", true, true},
		{"ap_pmf_valid_unicast_deauth", "unicast deauth", false, false},
		{"ap_pmf_valid_unicast_disassoc", "unicast disassoc", true, false},
	} {
		v := v
		harness.AddTest(&harness.Test{
			Name: v.name,
			Desc: "WPA2-PSK PMF AP sending valid " + v.desc + " without dropping SA",
			Func: func(ctx context.Context, s *harness.State) {
				runAPPMFValid(ctx, s, v.disassoc, v.broadcast)
			},
		})
	}
}

// startPMFAP starts the PMF-required "pmf" BSS and connects dev[0].
func startPMFAP(ctx context.Context, s *harness.State) (*hostapd.AP, *supplicant.Station, string) {
	const ssid = "pmf"
	ap := s.AddAP(ctx, 0, requiredParams(ssid))
	sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, ssid, staNetwork("2", "WPA-PSK-SHA256"))
	addr := ownAddr(s, dev)
	dev.DumpMonitor()
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	return ap, dev, addr
}

func apPMFAPDroppingSA(ctx context.Context, s *harness.State) {
	ap, dev, addr := startPMFAP(ctx, s)
	bssid := ownAddr(s, ap)

	// The AP forgets the association without telling the station, which
	// then receives unprotected Deauthentication frames for its next
	// Class 3 frame.
	if err := ap.Deauthenticate(addr, wpactrl.NoTx()); err != nil {
		s.Fatal("DEAUTHENTICATE command failed: ", err)
	}
	check(s, harness.RequireNoEvent(ctx, dev, disconnectTimeout,
		"Unexpected disconnection event after DEAUTHENTICATE tx=0", "CTRL-EVENT-DISCONNECTED"))

	check(s, dev.DataTestConfig(true))
	defer dev.DataTestConfig(false)
	check(s, dev.DataTestTx(bssid, addr, 0))
	ev, err := dev.WaitDisconnected(ctx, 5*time.Second)
	if err != nil || !ev.Contains("locally_generated=1") {
		s.Fatal("Locally generated disconnection not reported")
	}
}

func runAPPMFValid(ctx context.Context, s *harness.State, disassoc, broadcast bool) {
	ap, dev, addr := startPMFAP(ctx, s)

	dst := addr
	if broadcast {
		dst = wpactrl.BroadcastAddr
	}
	send := ap.Deauthenticate
	if disassoc {
		send = ap.Disassociate
	}
	if err := send(dst, wpactrl.Protected(true)); err != nil {
		s.Fatal("hostapd command failed: ", err)
	}
	if _, ok, err := ap.GetSTA(addr); err != nil || !ok {
		s.Fatal("STA entry lost")
	}
	ev, err := dev.WaitDisconnected(ctx, 5*time.Second)
	if err != nil {
		s.Fatal("Disconnection not reported: ", err)
	}
	if ev.Contains("locally_generated=1") {
		s.Fatal("Unexpected locally generated disconnection")
	}

	// The SA Query procedure fails and association comeback succeeds.
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
}
