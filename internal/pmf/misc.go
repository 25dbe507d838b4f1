package pmf

import (
	"context"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_tkip_reject",
		Desc: "Mixed mode BSS and MFP-enabled AP rejecting TKIP",
		Func: apPMFTKIPReject,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_drop_robust_mgmt_prior_to_keys_installation",
		Desc: "Drop non protected Robust Action frames prior to keys installation",
		Func: apPMFDropRobustMgmtPriorToKeys,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_eapol_logoff",
		Desc: "WPA2-EAP AP with PMF required and EAPOL-Logoff",
		Func: apPMFEAPOLLogoff,
	})
}

func apPMFTKIPReject(ctx context.Context, s *harness.State) {
	s.SkipWithoutTKIP(s.Dev[0])
	const ssid = "test-pmf"
	params := hostapd.WPA2Params(ssid, passphrase)
	params["wpa"] = "3"
	params["ieee80211w"] = "1"
	params["wpa_pairwise"] = "TKIP CCMP"
	params["rsn_pairwise"] = "TKIP CCMP"
	s.AddAP(ctx, 0, params)

	connect(ctx, s, s.Dev[0], ssid, supplicant.Network{
		PSK: passphrase, Pairwise: "CCMP", IEEE80211w: "2", ScanFreq: scanFreq,
	})
	s.Dev[0].DumpMonitor()
	connect(ctx, s, s.Dev[1], ssid, supplicant.Network{
		PSK: passphrase, Proto: "WPA", Pairwise: "TKIP", IEEE80211w: "0", ScanFreq: scanFreq,
	})
	s.Dev[1].DumpMonitor()

	// MFP cannot be negotiated with a TKIP pairwise cipher.
	dev := s.Dev[2]
	connect(ctx, s, dev, ssid, supplicant.Network{
		PSK: passphrase, Pairwise: "TKIP", IEEE80211w: "2", ScanFreq: scanFreq, NoWait: true,
	})
	ev, err := dev.WaitEvent(ctx, 10*time.Second, "CTRL-EVENT-CONNECTED", "CTRL-EVENT-ASSOC-REJECT")
	if err != nil {
		s.Fatal("No connection result reported: ", err)
	}
	if !ev.Contains("CTRL-EVENT-ASSOC-REJECT") {
		s.Fatal("MFP + TKIP connection was not rejected")
	}
	if !ev.Contains("status_code=31") {
		s.Fatal("Unexpected status code in rejection: ", ev.Text)
	}
	check(s, dev.Disconnect())
	dev.DumpMonitor()
}

// spectrumCSA is a Spectrum Management Action frame carrying a Channel
// Switch element for channel 8.
var spectrumCSA = frame.MustHex("00042503000608")

func apPMFDropRobustMgmtPriorToKeys(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required"
	params := hostapd.WPA2Params(ssid, passphrase)
	params["delay_eapol_tx"] = "1"
	params["ieee80211w"] = "2"
	params["wpa_pairwise_update_count"] = "5"
	ap := s.AddAP(ctx, 0, params, hostapd.NoWait())
	dev := s.Dev[0]

	bssid, sta := injectPeers(s, ap, dev)
	csa, err := frame.Action(sta, bssid, bssid, spectrumCSA)
	csa = mustFrame(s, csa, err)

	connect(ctx, s, dev, ssid, supplicant.Network{
		PSK: passphrase, ScanFreq: scanFreq, IEEE80211w: "1", NoWait: true,
	})
	if _, err := ap.WaitEvent(ctx, 10*time.Second, "DELAY-EAPOL-TX-1"); err != nil {
		s.Fatal("EAPOL is not delayed: ", err)
	}

	// Sent before the keys are installed, so the station must drop it.
	check(s, ap.MgmtTx(csa))
	if _, err := dev.WaitConnected(ctx, 10*time.Second); err != nil {
		s.Fatal("Timeout on connection: ", err)
	}
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	check(s, harness.RequireConnectivity(ctx, dev, ap))
	check(s, harness.RequireNoEvent(ctx, dev, 5*time.Second,
		"Unexpected CSA prior to keys installation", "CTRL-EVENT-STARTED-CHANNEL-SWITCH"))

	check(s, ap.MgmtTx(csa))
	if _, err := dev.WaitEvent(ctx, 5*time.Second, "CTRL-EVENT-STARTED-CHANNEL-SWITCH"); err != nil {
		s.Fatal("Expected CSA handling after keys installation: ", err)
	}
}

func apPMFEAPOLLogoff(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required-eap"
	params := hostapd.WPA2EAPParams(ssid)
	params["wpa_key_mgmt"] = "WPA-EAP-SHA256"
	params["ieee80211w"] = "2"
	ap := s.AddAP(ctx, 0, params)
	dev := s.Dev[0]
	check(s, ap.SetExtEAPOLFrameIO(true))
	check(s, dev.SetExtEAPOLFrameIO(true))
	s.Cleanup(func(context.Context) { dev.SetExtEAPOLFrameIO(false) })

	connect(ctx, s, dev, ssid, supplicant.Network{
		KeyMgmt:     "WPA-EAP-SHA256",
		IEEE80211w:  "2",
		EAP:         "PSK",
		Identity:    eapIdentity,
		PasswordHex: eapPasswordHex,
		ScanFreq:    scanFreq,
		NoWait:      true,
	})

	proxy := func(src, dst harness.EAPOLPeer) {
		if _, err := harness.ProxyMsg(ctx, src, dst); err != nil {
			s.Fatal(err)
		}
	}

	// EAP-Request/Identity.
	proxy(ap, dev)
	resp, err := harness.RxMsg(ctx, dev)
	check(s, err)
	// EAPOL-Logoff ahead of the held EAP-Response/Identity.
	check(s, harness.TxMsg(dev, ap, eapolLogoff))
	check(s, harness.TxMsg(dev, ap, resp))

	// The 10 ms deauthentication that follows EAP-Failure must not be
	// used before authentication has completed.
	check(s, harness.RequireNoEvent(ctx, dev, 30*time.Millisecond, "Unexpected disconnection", "CTRL-EVENT-DISCONNECTED"))

	// Identity exchange, EAP-PSK and the 4-way handshake.
	for _, toSTA := range []bool{
		true, false,
		true, false, true, false, true,
		true, false, true, false,
	} {
		if toSTA {
			proxy(ap, dev)
		} else {
			proxy(dev, ap)
		}
	}
	if _, err := ap.WaitEvent(ctx, time.Second, "EAPOL-4WAY-HS-COMPLETED"); err != nil {
		s.Fatal("4-way handshake did not complete successfully: ", err)
	}
	if _, err := dev.WaitConnected(ctx, 100*time.Millisecond); err != nil {
		s.Fatal(err)
	}
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}

	// EAPOL-Logoff after authentication disconnects the station.
	check(s, harness.TxMsg(dev, ap, eapolLogoff))
	check(s, ap.SetExtEAPOLFrameIO(false))
	check(s, dev.SetExtEAPOLFrameIO(false))
	ev, err := dev.WaitDisconnected(ctx, time.Second)
	check(s, err)
	if !ev.Contains("reason=23") {
		s.Fatal("Unexpected disconnection reason: ", ev.Text)
	}
}
