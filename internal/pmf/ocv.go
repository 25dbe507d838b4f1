package pmf

import (
	"context"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/wlantest"
)

func init() {
	harness.AddTest(&harness.Test{
		Name: "ocv_sa_query",
		Desc: "SA Query with OCV",
		Func: ocvSAQuery,
	})
	harness.AddTest(&harness.Test{
		Name: "ocv_sa_query_csa",
		Desc: "SA Query with OCV after channel switch",
		Func: ocvSAQueryCSA,
	})
	harness.AddTest(&harness.Test{
		Name: "ocv_sa_query_csa_no_resp",
		Desc: "SA Query with OCV after channel switch getting no response",
		Func: ocvSAQueryCSANoResp,
	})
	harness.AddTest(&harness.Test{
		Name: "ocv_sa_query_csa_missing",
		Desc: "SA Query with OCV missing after channel switch",
		Func: ocvSAQueryCSAMissing,
	})
}

const ocvSSID = "test-pmf-required"

// startOCVAP starts a PMF-required AP with operating channel validation
// and connects dev[0] with OCV enabled. Builds without OCV skip.
func startOCVAP(ctx context.Context, s *harness.State) (*hostapd.AP, *wlantest.Client) {
	params := requiredParams(ocvSSID)
	params["ocv"] = "1"
	ap, err := s.StartAP(ctx, 0, params)
	s.SkipOnParamError(err, "ocv", "OCV")
	wt := sniff(ctx, s)

	n := optionalSTA()
	n.OCV = "1"
	connect(ctx, s, s.Dev[0], ocvSSID, n)
	return ap, wt
}

// chanSwitch moves the AP to channel 6 with a five beacon count.
func chanSwitch(s *harness.State, ap *hostapd.AP) {
	if err := ap.ChanSwitch(5, 2437, "ht"); err != nil {
		s.Fatal("CHAN_SWITCH failed: ", err)
	}
}

func ocvSAQuery(ctx context.Context, s *harness.State) {
	ap, wt := startOCVAP(ctx, s)
	dev := s.Dev[0]
	addr := ownAddr(s, dev)
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}

	// Station side handling of an SA Query carrying an OCI element.
	if err := ap.SAQuery(addr); err != nil {
		s.Fatal("SA_QUERY failed: ", err)
	}
	check(s, harness.RequireNoEvent(ctx, ap, 100*time.Millisecond, "Unexpected OCV failure reported", "OCV-FAILURE"))
	if staCounter(ctx, s, wt, "valid_saqueryresp_tx", s.APDev[0].BSSID, addr) < 1 {
		s.Fatal("STA did not reply to SA Query")
	}

	// AP side.
	if err := dev.UnprotDeauth(); err != nil {
		s.Fatal("Triggering SA Query from the STA failed: ", err)
	}
	check(s, harness.RequireNoEvent(ctx, dev, 3*time.Second, "SA Query from the STA failed", "CTRL-EVENT-DISCONNECTED"))
}

func ocvSAQueryCSA(ctx context.Context, s *harness.State) {
	ap, wt := startOCVAP(ctx, s)
	dev := s.Dev[0]

	chanSwitch(s, ap)
	time.Sleep(time.Second)
	if staCounter(ctx, s, wt, "valid_saqueryreq_tx", s.APDev[0].BSSID, ownAddr(s, dev)) < 1 {
		s.Fatal("STA did not start SA Query after channel switch")
	}
	check(s, harness.RequireNoEvent(ctx, dev, 16*time.Second, "Unexpected disconnection", "CTRL-EVENT-DISCONNECTED"))
}

func ocvSAQueryCSANoResp(ctx context.Context, s *harness.State) {
	ap, _ := startOCVAP(ctx, s)

	check(s, ap.SetExtMgmtFrameHandling(true))
	chanSwitch(s, ap)
	ev, err := s.Dev[0].WaitDisconnected(ctx, 5*time.Second)
	if err != nil {
		s.Fatal("Disconnection after CSA not reported: ", err)
	}
	if !ev.Contains("locally_generated=1") {
		s.Fatal("Unexpectedly disconnected by AP: ", ev.Text)
	}
}

func ocvSAQueryCSAMissing(ctx context.Context, s *harness.State) {
	ap, _ := startOCVAP(ctx, s)
	// The kernel drops the Deauthentication frame until the AP side
	// has the MFP station entry.
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}
	disconnectWithDeauthRX(ctx, s, s.Dev[0], ap, 5*time.Second)

	chanSwitch(s, ap)
	if _, err := ap.WaitEvent(ctx, 20*time.Second, "AP-STA-DISCONNECTED"); err != nil {
		s.Fatal("No disconnection event received from hostapd: ", err)
	}
}

