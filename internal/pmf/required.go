package pmf

import (
	"context"
	"strings"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/mac80211"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_required",
		Desc: "WPA2-PSK AP with PMF required",
		Func: apPMFRequired,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_optional",
		Desc: "WPA2-PSK AP with PMF optional",
		Func: func(ctx context.Context, s *harness.State) {
			runAPPMFOptional(ctx, s, "test-pmf-optional", "WPA-PSK")
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_optional_2akm",
		Desc: "WPA2-PSK AP with PMF optional (2 AKMs)",
		Func: func(ctx context.Context, s *harness.State) {
			runAPPMFOptional(ctx, s, "test-pmf-optional-2akm", bothAKMs)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_negative",
		Desc: "WPA2-PSK AP without PMF (negative test)",
		Func: apPMFNegative,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_required_sha1",
		Desc: "WPA2-PSK AP with PMF required with SHA1 AKM",
		Func: apPMFRequiredSHA1,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_required_sta_no_pmf",
		Desc: "WPA2-PSK AP with PMF required and PMF disabled on STA",
		Func: apPMFRequiredSTANoPMF,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_global_require",
		Desc: "WPA2-PSK AP with PMF optional and wpa_supplicant pmf=2",
		Func: apPMFSTAGlobalRequire,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_sta_global_require2",
		Desc: "WPA2-PSK AP with PMF optional and wpa_supplicant pmf=2 (2)",
		Func: apPMFSTAGlobalRequire2,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_toggle",
		Desc: "WPA2-PSK AP with PMF optional and changing PMF on reassociation",
		Func: apPMFToggle,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_required_eap",
		Desc: "WPA2-EAP AP with PMF required",
		Func: apPMFRequiredEAP,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_optional_eap",
		Desc: "WPA2EAP AP with PMF optional",
		Func: apPMFOptionalEAP,
	})
}

func apPMFRequired(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required"
	ap := s.AddAP(ctx, 0, requiredParams(ssid))
	wt := sniff(ctx, s)
	bssid := s.APDev[0].BSSID
	requireKeyMgmt(s, ap, "WPA-PSK-SHA256")

	dev0, dev1 := s.Dev[0], s.Dev[1]
	connect(ctx, s, dev0, ssid, optionalSTA())
	got, err := dev0.SSID()
	check(s, err)
	if got != ssid {
		s.Fatalf("Associated with SSID %q, want %q", got, ssid)
	}
	res, err := dev0.ScanResults()
	check(s, err)
	if !strings.Contains(res, "[WPA2-PSK-SHA256-CCMP]") {
		s.Fatal("Scan results missing RSN element info")
	}
	check(s, harness.RequireConnectivity(ctx, dev0, ap))
	connect(ctx, s, dev1, ssid, staNetwork("2", bothAKMs))
	check(s, harness.RequireConnectivity(ctx, dev1, ap))

	addr0, addr1 := ownAddr(s, dev0), ownAddr(s, dev1)
	for _, addr := range []string{addr0, addr1} {
		if err := ap.SAQuery(addr); err != nil {
			s.Fatal("SA_QUERY failed: ", err)
		}
	}
	reply, err := ap.Request("SA_QUERY foo")
	check(s, err)
	if !strings.Contains(reply, "FAIL") {
		s.Fatal("Invalid SA_QUERY accepted")
	}

	check(s, wt.RequireAPPMFMandatory(ctx, bssid))
	check(s, wt.RequireSTAPMF(ctx, bssid, addr0))
	check(s, wt.RequireSTAPMFMandatory(ctx, bssid, addr1))

	time.Sleep(100 * time.Millisecond)
	for _, addr := range []string{addr0, addr1} {
		if staCounter(ctx, s, wt, "valid_saqueryresp_tx", bssid, addr) < 1 {
			s.Fatal("STA did not reply to SA Query")
		}
	}
}

func runAPPMFOptional(ctx context.Context, s *harness.State, ssid, apKeyMgmt string) {
	ap := s.AddAP(ctx, 0, pmfParams(ssid, apKeyMgmt, "1"))
	wt := sniff(ctx, s)
	bssid := s.APDev[0].BSSID

	dev0, dev1 := s.Dev[0], s.Dev[1]
	connect(ctx, s, dev0, ssid, optionalSTA())
	check(s, harness.RequireConnectivity(ctx, dev0, ap))
	connect(ctx, s, dev1, ssid, staNetwork("2", bothAKMs))
	check(s, harness.RequireConnectivity(ctx, dev1, ap))

	addr0, addr1 := ownAddr(s, dev0), ownAddr(s, dev1)
	check(s, wt.RequireAPPMFOptional(ctx, bssid))
	check(s, wt.RequireSTAPMF(ctx, bssid, addr0))
	if apKeyMgmt == bothAKMs {
		check(s, wt.RequireSTAKeyMgmt(ctx, bssid, addr0, "PSK-SHA256"))
	}
	check(s, wt.RequireSTAPMFMandatory(ctx, bssid, addr1))
	if apKeyMgmt == bothAKMs {
		check(s, wt.RequireSTAKeyMgmt(ctx, bssid, addr1, "PSK-SHA256"))
	}
}

func apPMFNegative(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-negative"
	ap := s.AddAP(ctx, 0, pmfParams(ssid, "WPA-PSK", ""))
	wt := sniff(ctx, s)

	connect(ctx, s, s.Dev[0], ssid, optionalSTA())
	check(s, harness.RequireConnectivity(ctx, s.Dev[0], ap))

	// A PMF-required station must not be able to use this AP.
	n := staNetwork("2", bothAKMs)
	n.Timeout = 5 * time.Second
	if _, err := s.Dev[1].Connect(ctx, ssid, n); err == nil {
		if harness.RequireConnectivity(ctx, s.Dev[1], ap) == nil {
			s.Fatal("PMF required STA connected to no PMF AP")
		}
	} else {
		s.Logf("Ignore expected connection failure: %v", err)
	}
	check(s, wt.RequireAPNoPMF(ctx, s.APDev[0].BSSID))
}

func apPMFRequiredSHA1(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required-sha1"
	ap := s.AddAP(ctx, 0, pmfParams(ssid, "WPA-PSK", "2"))
	sniff(ctx, s)
	requireKeyMgmt(s, ap, "WPA-PSK")

	connect(ctx, s, s.Dev[0], ssid, staNetwork("2", "WPA-PSK"))
	res, err := s.Dev[0].ScanResults()
	check(s, err)
	if !strings.Contains(res, "[WPA2-PSK-CCMP]") {
		s.Fatal("Scan results missing RSN element info")
	}
	check(s, harness.RequireConnectivity(ctx, s.Dev[0], ap))
}

func apPMFRequiredSTANoPMF(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required"
	s.AddAP(ctx, 0, requiredParams(ssid))

	dev := s.Dev[0]
	n := staNetwork("0", bothAKMs)
	n.NoWait = true
	connect(ctx, s, dev, ssid, n)
	ev, err := dev.WaitEvent(ctx, 2*time.Second, "CTRL-EVENT-NETWORK-NOT-FOUND", "CTRL-EVENT-ASSOC-REJECT")
	if err != nil {
		s.Fatal("No connection result: ", err)
	}
	if ev.Contains("CTRL-EVENT-ASSOC-REJECT") {
		s.Fatal("Tried to connect to PMF required AP without PMF enabled")
	}
	check(s, dev.RemoveNetwork("all"))
}

func apPMFSTAGlobalRequire(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-optional"
	s.AddAP(ctx, 0, pmfParams(ssid, "WPA-PSK", "1"))

	dev := s.Dev[0]
	check(s, dev.Set("pmf", "2"))
	s.Cleanup(func(context.Context) { dev.Set("pmf", "0") })

	connect(ctx, s, dev, ssid, staNetwork("", bothAKMs))
	pmf, err := dev.PMF()
	check(s, err)
	if pmf != "1" {
		s.Fatalf("Unexpected PMF state: %s", pmf)
	}
}

func apPMFSTAGlobalRequire2(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-optional"
	ap := s.AddAP(ctx, 0, pmfParams(ssid, "WPA-PSK", "0"))
	bssid := ownAddr(s, ap)

	dev := s.Dev[0]
	check(s, dev.ScanForBSS(ctx, bssid, 2412))
	check(s, dev.Set("pmf", "2"))
	s.Cleanup(func(context.Context) { dev.Set("pmf", "0") })

	n := staNetwork("", bothAKMs)
	n.NoWait = true
	connect(ctx, s, dev, ssid, n)
	ev, err := dev.WaitEvent(ctx, 10*time.Second, "CTRL-EVENT-CONNECTED", "CTRL-EVENT-NETWORK-NOT-FOUND")
	if err != nil {
		s.Fatal("Connection result not reported: ", err)
	}
	if ev.Contains("CTRL-EVENT-CONNECTED") {
		s.Fatal("Unexpected connection")
	}
}

func apPMFToggle(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-optional"
	params := pmfParams(ssid, "WPA-PSK", "1")
	params["assoc_sa_query_max_timeout"] = "1"
	params["assoc_sa_query_retry_timeout"] = "1"
	ap := s.AddAP(ctx, 0, params)
	wt := sniff(ctx, s)
	bssid := s.APDev[0].BSSID

	dev := s.Dev[0]
	addr := ownAddr(s, dev)
	check(s, dev.Set("reassoc_same_bss_optim", "1"))
	s.Cleanup(func(context.Context) { dev.Set("reassoc_same_bss_optim", "0") })

	id := connect(ctx, s, dev, ssid, optionalSTA())
	check(s, wt.RequireAPPMFOptional(ctx, bssid))
	check(s, wt.RequireSTAPMF(ctx, bssid, addr))
	requireMFPFlag(s, ap, addr, true)

	reassoc := func(w string) {
		check(s, dev.SetNetwork(id, "ieee80211w", w))
		check(s, dev.Reassociate())
		if _, err := dev.WaitConnected(ctx, 0); err != nil {
			s.Fatal(err)
		}
	}

	reassoc("0")
	check(s, wt.RequireSTANoPMF(ctx, bssid, addr))
	requireMFPFlag(s, ap, addr, false)
	mfp, err := mac80211.StationMFP(ctx, s.Runner(), s.APDev[0].Ifname, addr)
	check(s, err)
	if mfp {
		s.Fatal("Kernel STA entry had MFP enabled")
	}

	reassoc("1")
	check(s, wt.RequireSTAPMF(ctx, bssid, addr))
	requireMFPFlag(s, ap, addr, true)
	mfp, err = mac80211.StationMFP(ctx, s.Runner(), s.APDev[0].Ifname, addr)
	check(s, err)
	if !mfp {
		s.Fatal("Kernel STA entry did not have MFP enabled")
	}
}

const (
	eapIdentity    = "psk.user@example.com"
	eapPasswordHex = "0123456789abcdef0123456789abcdef"
	caCert         = "auth_serv/ca.pem"
)

func apPMFRequiredEAP(ctx context.Context, s *harness.State) {
	const ssid = "test-pmf-required-eap"
	params := hostapd.WPA2EAPParams(ssid)
	params["wpa_key_mgmt"] = "WPA-EAP-SHA256"
	params["ieee80211w"] = "2"
	ap := s.AddAP(ctx, 0, params)
	requireKeyMgmt(s, ap, "WPA-EAP-SHA256")

	connect(ctx, s, s.Dev[0], ssid, supplicant.Network{
		KeyMgmt:     "WPA-EAP-SHA256",
		IEEE80211w:  "2",
		EAP:         "PSK",
		Identity:    eapIdentity,
		PasswordHex: eapPasswordHex,
		ScanFreq:    scanFreq,
	})
	connect(ctx, s, s.Dev[1], ssid, supplicant.Network{
		KeyMgmt:     "WPA-EAP WPA-EAP-SHA256",
		IEEE80211w:  "1",
		EAP:         "PSK",
		Identity:    eapIdentity,
		PasswordHex: eapPasswordHex,
		ScanFreq:    scanFreq,
	})
}

func ttlsNetwork(keyMgmt, w string) supplicant.Network {
	return supplicant.Network{
		KeyMgmt:           keyMgmt,
		EAP:               "TTLS",
		Identity:          "pap user",
		AnonymousIdentity: "ttls",
		Password:          "password",
		CACert:            caCert,
		Phase2:            "auth=PAP",
		IEEE80211w:        w,
		ScanFreq:          scanFreq,
	}
}

func apPMFOptionalEAP(ctx context.Context, s *harness.State) {
	const ssid = "test-wpa2-eap"
	params := hostapd.WPA2EAPParams(ssid)
	params["ieee80211w"] = "1"
	s.AddAP(ctx, 0, params)

	connect(ctx, s, s.Dev[0], ssid, ttlsNetwork("WPA-EAP", "1"))
	connect(ctx, s, s.Dev[1], ssid, ttlsNetwork("WPA-EAP WPA-EAP-SHA256", "2"))
}
