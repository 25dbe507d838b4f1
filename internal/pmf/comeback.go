package pmf

import (
	"context"
	"strconv"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback",
		Desc: "WPA2-PSK AP with PMF association comeback",
		Func: func(ctx context.Context, s *harness.State) {
			runAssocComeback(ctx, s, 0)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback_10000tu",
		Desc: "WPA2-PSK AP with PMF association comeback (10000 TUs)",
		Func: func(ctx context.Context, s *harness.State) {
			runAssocComeback(ctx, s, 10000)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback_in_wpas",
		Desc: "WPA2-PSK AP with PMF association comeback in wpa_supplicant",
		Func: apPMFAssocComebackInWpas,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback2",
		Desc: "WPA2-PSK AP with PMF association comeback (using DROP_SA)",
		Func: apPMFAssocComeback2,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback3",
		Desc: "WPA2-PSK AP with PMF association comeback (using radio_disabled)",
		Func: apPMFAssocComeback3,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_assoc_comeback_wps",
		Desc: "WPA2-PSK AP with PMF association comeback (WPS)",
		Func: apPMFAssocComebackWPS,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_known_sta_id",
		Desc: "WPA2-PSK AP and Known STA Identification to avoid association comeback",
		Func: apPMFKnownSTAID,
	})
}

const comebackSSID = "assoc-comeback"

// rejoin disconnects dev without the AP noticing and reassociates, so
// the AP still holds a PMF association for the station.
func rejoin(ctx context.Context, s *harness.State, dev *supplicant.Station, ap *hostapd.AP) {
	if _, err := ap.WaitSTA(ctx, "", true); err != nil {
		s.Fatal(err)
	}
	disconnectWithDeauthRX(ctx, s, dev, ap, time.Second)
	check(s, dev.Reassociate())
}

func waitReconnect(ctx context.Context, s *harness.State, dev *supplicant.Station, timeout time.Duration) {
	if _, err := dev.WaitConnected(ctx, timeout); err != nil {
		s.Fatal("Timeout on re-connection: ", err)
	}
}

func runAssocComeback(ctx context.Context, s *harness.State, comebackTU int) {
	params := requiredParams(comebackSSID)
	if comebackTU > 0 {
		params["assoc_sa_query_max_timeout"] = strconv.Itoa(comebackTU)
	}
	ap := s.AddAP(ctx, 0, params)
	wt := sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, comebackSSID, optionalSTA())

	rejoin(ctx, s, dev, ap)
	waitReconnect(ctx, s, dev, reconnectTimeout)
	if _, err := ap.Wait4WayHS(ctx, ""); err != nil {
		s.Fatal(err)
	}
	if staCounter(ctx, s, wt, "assocresp_comeback", s.APDev[0].BSSID, ownAddr(s, dev)) < 1 {
		s.Fatal("AP did not use association comeback request")
	}
}

// requireComebackReject waits for the status 30 (temporary rejection)
// association response that requests a comeback.
func requireComebackReject(ctx context.Context, s *harness.State, dev *supplicant.Station) {
	ev, err := dev.WaitEvent(ctx, 10*time.Second, "CTRL-EVENT-ASSOC-REJECT")
	if err != nil || !ev.Contains("status_code=30") {
		s.Fatal("Association comeback not requested")
	}
}

func apPMFAssocComebackInWpas(ctx context.Context, s *harness.State) {
	params := requiredParams(comebackSSID)
	params["test_assoc_comeback_type"] = "255"
	ap := s.AddAP(ctx, 0, params)

	dev := s.Dev[0]
	check(s, dev.Set("test_assoc_comeback_type", "255"))
	s.Cleanup(func(context.Context) { dev.Set("test_assoc_comeback_type", "-1") })
	connect(ctx, s, dev, comebackSSID, optionalSTA())

	rejoin(ctx, s, dev, ap)
	requireComebackReject(ctx, s, dev)
	ev, err := dev.WaitEvent(ctx, 10*time.Second, "CTRL-EVENT-CONNECTED", "CTRL-EVENT-ASSOC-REJECT")
	if err != nil {
		s.Fatal("Association not reported: ", err)
	}
	if ev.Contains("CTRL-EVENT-ASSOC-REJECT") {
		s.Fatal("Unexpected association rejection: ", ev.Text)
	}
	if _, err := ap.Wait4WayHS(ctx, ""); err != nil {
		s.Fatal(err)
	}

	// An AP that omits the comeback time.
	disconnectWithDeauthRX(ctx, s, dev, ap, time.Second)
	check(s, dev.Set("test_assoc_comeback_type", "254"))
	check(s, dev.Reassociate())
	requireComebackReject(ctx, s, dev)
	const missing = "SME: Temporary assoc reject: missing association comeback time"
	ev, err = dev.WaitEvent(ctx, 10*time.Second, missing, "CTRL-EVENT-CONNECTED", "CTRL-EVENT-ASSOC-REJECT")
	if err != nil {
		s.Fatal("Association not reported: ", err)
	}
	if !ev.Contains(missing) {
		s.Fatal("Unexpected result: ", ev.Text)
	}
	if _, err := dev.WaitConnected(ctx, reconnectTimeout); err != nil {
		s.Fatal("Timeout on re-connection with misbehaving AP: ", err)
	}
	if _, err := ap.Wait4WayHS(ctx, ""); err != nil {
		s.Fatal(err)
	}
}

func apPMFAssocComeback2(ctx context.Context, s *harness.State) {
	s.AddAP(ctx, 0, pmfParams(comebackSSID, "WPA-PSK", "1"))
	wt := sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, comebackSSID, staNetwork("2", "WPA-PSK"))

	if err := dev.DropSA(); err != nil {
		s.Fatal("DROP_SA failed: ", err)
	}
	check(s, dev.Reassociate())
	waitReconnect(ctx, s, dev, 10*time.Second)
	if staCounter(ctx, s, wt, "reassocresp_comeback", s.APDev[0].BSSID, ownAddr(s, dev)) < 1 {
		s.Fatal("AP did not use reassociation comeback request")
	}
}

func apPMFAssocComeback3(ctx context.Context, s *harness.State) {
	dev := s.Dev[0]
	capa, err := dev.DriverCapa()
	check(s, err)
	if capa&supplicant.CapaRadioDisabled == 0 {
		s.Skipf("Driver does not support radio_disabled")
	}

	s.AddAP(ctx, 0, pmfParams(comebackSSID, "WPA-PSK", "1"))
	wt := sniff(ctx, s)
	connect(ctx, s, dev, comebackSSID, staNetwork("2", "WPA-PSK"))

	check(s, dev.Set("radio_disabled", "1"))
	check(s, dev.Set("radio_disabled", "0"))
	check(s, dev.Reassociate())
	waitReconnect(ctx, s, dev, 10*time.Second)
	if staCounter(ctx, s, wt, "assocresp_comeback", s.APDev[0].BSSID, ownAddr(s, dev)) < 1 {
		s.Fatal("AP did not use reassociation comeback request")
	}
}

func apPMFAssocComebackWPS(ctx context.Context, s *harness.State) {
	const appin = "12345670"
	params := requiredParams(comebackSSID)
	params["eap_server"] = "1"
	params["wps_state"] = "2"
	params["ap_pin"] = appin
	ap := s.AddAP(ctx, 0, params)
	wt := sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, comebackSSID, optionalSTA())

	if _, err := ap.WaitSTA(ctx, "", true); err != nil {
		s.Fatal(err)
	}
	disconnectWithDeauthRX(ctx, s, dev, ap, time.Second)
	if err := dev.WPSReg(ctx, s.APDev[0].BSSID, appin); err != nil {
		s.Fatal("WPS registration failed: ", err)
	}
	if _, err := ap.Wait4WayHS(ctx, ""); err != nil {
		s.Fatal(err)
	}
	if staCounter(ctx, s, wt, "assocresp_comeback", s.APDev[0].BSSID, ownAddr(s, dev)) < 1 {
		s.Fatal("AP did not use association comeback request")
	}
}

func apPMFKnownSTAID(ctx context.Context, s *harness.State) {
	params := requiredParams(comebackSSID)
	params["known_sta_identification"] = "1"
	ap := s.AddAP(ctx, 0, params)
	wt := sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, comebackSSID, staNetwork("2", "WPA-PSK-SHA256"))

	rejoin(ctx, s, dev, ap)
	waitReconnect(ctx, s, dev, reconnectTimeout)
	if _, err := ap.Wait4WayHS(ctx, ""); err != nil {
		s.Fatal(err)
	}
	if staCounter(ctx, s, wt, "assocresp_comeback", s.APDev[0].BSSID, ownAddr(s, dev)) > 0 {
		s.Fatal("AP used association comeback request")
	}
}
