// Package pmf registers the hwsim Protected Management Frames tests:
// required and optional PMF, SA Query, association comeback, OCV,
// beacon protection and frame injection against PMF associations.
package pmf

import (
	"context"
	"strings"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
	"github.com/awilliams/hwsim-pmf/internal/wlantest"
)

const (
	passphrase = "12345678"
	scanFreq   = "2412"

	// bothAKMs lets the station pick either PSK AKM.
	bothAKMs = "WPA-PSK WPA-PSK-SHA256"
)

// Event timeouts shared by several tests.
const (
	disconnectTimeout = time.Second
	reconnectTimeout  = 20 * time.Second
)

// pmfParams is a WPA2-PSK AP using keyMgmt with ieee80211w set to w.
// An empty w leaves PMF at the hostapd default (disabled).
func pmfParams(ssid, keyMgmt, w string) hostapd.Params {
	p := hostapd.WPA2Params(ssid, passphrase)
	p["wpa_key_mgmt"] = keyMgmt
	if w != "" {
		p["ieee80211w"] = w
	}
	return p
}

// requiredParams is a PMF-required WPA2-PSK-SHA256 AP.
func requiredParams(ssid string) hostapd.Params {
	return pmfParams(ssid, "WPA-PSK-SHA256", "2")
}

// staNetwork is a WPA2 station network with the given PMF setting.
func staNetwork(w, keyMgmt string) supplicant.Network {
	return supplicant.Network{
		PSK:        passphrase,
		IEEE80211w: w,
		KeyMgmt:    keyMgmt,
		Proto:      "WPA2",
		ScanFreq:   scanFreq,
	}
}

// optionalSTA is a station with PMF enabled but not required.
func optionalSTA() supplicant.Network {
	return staNetwork("1", bothAKMs)
}

// sniff resets the wlantest state and registers the test passphrase.
func sniff(ctx context.Context, s *harness.State) *wlantest.Client {
	wt := s.Wlantest()
	if err := wt.Flush(ctx); err != nil {
		s.Fatal("Failed to flush wlantest: ", err)
	}
	if err := wt.AddPassphrase(ctx, passphrase); err != nil {
		s.Fatal("Failed to add wlantest passphrase: ", err)
	}
	return wt
}

func connect(ctx context.Context, s *harness.State, dev *supplicant.Station, ssid string, n supplicant.Network) int {
	id, err := dev.Connect(ctx, ssid, n)
	if err != nil {
		s.Fatalf("%s: failed to connect to %q: %v", dev.Ifname(), ssid, err)
	}
	return id
}

type addresser interface {
	OwnAddr() (string, error)
}

func ownAddr(s *harness.State, a addresser) string {
	addr, err := a.OwnAddr()
	if err != nil {
		s.Fatal("Failed to read own address: ", err)
	}
	return addr
}

func staCounter(ctx context.Context, s *harness.State, wt *wlantest.Client, field, bssid, addr string) int {
	n, err := wt.GetSTACounter(ctx, field, bssid, addr)
	if err != nil {
		s.Fatal("Failed to read wlantest counter: ", err)
	}
	return n
}

func bssCounter(ctx context.Context, s *harness.State, wt *wlantest.Client, field, bssid string) int {
	n, err := wt.GetBSSCounter(ctx, field, bssid)
	if err != nil {
		s.Fatal("Failed to read wlantest counter: ", err)
	}
	return n
}

func check(s *harness.State, err error) {
	if err != nil {
		s.Fatal(err)
	}
}

// requireKeyMgmt checks the first AKM hostapd reports in GET_CONFIG.
func requireKeyMgmt(s *harness.State, ap *hostapd.AP, want string) {
	km, err := ap.KeyMgmt()
	if err != nil {
		s.Fatal("GET_CONFIG failed: ", err)
	}
	if len(km) == 0 || km[0] != want {
		s.Fatalf("Unexpected GET_CONFIG(key_mgmt): %s", strings.Join(km, " "))
	}
}

// disconnectWithDeauthRX disconnects dev while the AP handles management
// frames externally, so the AP keeps the association, then waits for
// the Deauthentication frame to be reported within rxTimeout.
func disconnectWithDeauthRX(ctx context.Context, s *harness.State, dev *supplicant.Station, ap *hostapd.AP, rxTimeout time.Duration) {
	check(s, ap.SetExtMgmtFrameHandling(true))
	check(s, dev.Disconnect())
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	if _, err := ap.WaitEvent(ctx, rxTimeout, "MGMT-RX"); err != nil {
		s.Fatal("Deauthentication frame RX not reported: ", err)
	}
	check(s, ap.SetExtMgmtFrameHandling(false))
}

// requireMFPFlag checks whether hostapd reports [MFP] for addr.
func requireMFPFlag(s *harness.State, ap *hostapd.AP, addr string, want bool) {
	sta, ok, err := ap.GetSTA(addr)
	if err != nil {
		s.Fatal("STA get failed: ", err)
	}
	if !ok {
		s.Fatalf("STA %s not found", addr)
	}
	if got := sta.HasFlag("MFP"); got != want {
		if want {
			s.Fatal("MFP flag not present for STA")
		}
		s.Fatal("MFP flag unexpectedly present for STA")
	}
}
