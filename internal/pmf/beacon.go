package pmf

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/mac80211"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

func init() {
	for _, c := range []struct{ suffix, cipher, label string }{
		{"", "AES-128-CMAC", "BIP"},
		{"_cmac_256", "BIP-CMAC-256", "BIP-CMAC-256"},
		{"_gmac_128", "BIP-GMAC-128", "BIP-GMAC-128"},
		{"_gmac_256", "BIP-GMAC-256", "BIP-GMAC-256"},
	} {
		c := c
		harness.AddTest(&harness.Test{
			Name: "ap_pmf_beacon_protection_bip" + c.suffix,
			Desc: "WPA2-PSK Beacon protection (" + c.label + ")",
			Func: func(ctx context.Context, s *harness.State) {
				runBeaconProtection(ctx, s, c.cipher)
			},
		})
	}
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_beacon_protection_mismatch",
		Desc: "WPA2-PSK Beacon protection MIC mismatch",
		Func: func(ctx context.Context, s *harness.State) {
			runBeaconProtectionMismatch(ctx, s, false)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_beacon_protection_missing",
		Desc: "WPA2-PSK Beacon protection MME missing",
		Func: func(ctx context.Context, s *harness.State) {
			runBeaconProtectionMismatch(ctx, s, true)
		},
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_beacon_protection_reconnect",
		Desc: "Beacon protection and reconnection",
		Func: apPMFBeaconProtectionReconnect,
	})
	harness.AddTest(&harness.Test{
		Name: "ap_pmf_beacon_protection_unicast",
		Desc: "WPA2-PSK Beacon protection (BIP) and unicast Beacon frame",
		Func: apPMFBeaconProtectionUnicast,
	})
}

const beaconSSID = "test-beacon-prot"

// startBeaconProtAP starts a beacon protecting AP using cipher as the
// group management cipher. Drivers that cannot enable it skip the test.
func startBeaconProtAP(ctx context.Context, s *harness.State, cipher string) *hostapd.AP {
	params := requiredParams(beaconSSID)
	params["beacon_prot"] = "1"
	params["group_mgmt_cipher"] = cipher
	ap, err := s.StartAP(ctx, 0, params)
	if errors.Is(err, hostapd.ErrEnableFailed) {
		s.Skipf("Beacon protection not supported")
	}
	check(s, err)
	return ap
}

func beaconProtSTA() supplicant.Network {
	n := staNetwork("2", "WPA-PSK-SHA256")
	n.BeaconProt = "1"
	return n
}

type phyNamer interface {
	DriverStatusField(key string) (string, error)
}

func readBIGTK(s *harness.State, d phyNamer, side string) mac80211.Key {
	phy, err := d.DriverStatusField("phyname")
	if err != nil {
		s.Fatal("Failed to read phyname: ", err)
	}
	keys, err := s.Debugfs().ReadKeys(phy)
	if errors.Is(err, mac80211.ErrDebugfsUnsupported) {
		s.Skipf("debugfs not supported in mac80211 (%s)", side)
	}
	check(s, err)
	k, ok := mac80211.FindBIGTK(keys)
	if !ok {
		s.Fatalf("Could not find %s key information from debugfs", side)
	}
	s.Logf("%s key: %v", side, k.Fields)
	return k
}

// checkBIGTK compares the BIGTK the kernel installed on both ends.
func checkBIGTK(s *harness.State, dev *supplicant.Station, ap *hostapd.AP) {
	sta := readBIGTK(s, dev, "STA")
	apKey := readBIGTK(s, ap, "AP")
	check(s, mac80211.CheckBIGTK(apKey, sta))
}

func runBeaconProtection(ctx context.Context, s *harness.State, cipher string) {
	ap := startBeaconProtAP(ctx, s, cipher)
	bssid := ownAddr(s, ap)
	wt := sniff(ctx, s)
	dev0, dev1 := s.Dev[0], s.Dev[1]
	check(s, dev0.FlushScanCache(ctx))

	connect(ctx, s, dev0, beaconSSID, beaconProtSTA())
	if set, err := dev0.BigtkSet(); err != nil || !set {
		s.Fatal("bigtk_set=1 not indicated")
	}
	connect(ctx, s, dev1, beaconSSID, staNetwork("2", "WPA-PSK-SHA256"))
	if set, err := dev1.BigtkSet(); err != nil || set {
		s.Fatal("Unexpected bigtk_set=1 indication")
	}

	time.Sleep(time.Second)
	checkBIGTK(s, dev0, ap)

	valid := bssCounter(ctx, s, wt, "valid_bip_mmie", bssid)
	invalid := bssCounter(ctx, s, wt, "invalid_bip_mmie", bssid)
	missing := bssCounter(ctx, s, wt, "missing_bip_mmie", bssid)
	s.Logf("wlantest BIP counters: valid=%d invalid=%d missing=%d", valid, invalid, missing)
	if valid < 0 || invalid > 0 || missing > 0 {
		s.Fatalf("Unexpected wlantest BIP counters: valid=%d invalid=%d missing=%d", valid, invalid, missing)
	}

	check(s, harness.RequireNoEvent(ctx, dev0, 10*time.Second, "Beacon loss detected", "CTRL-EVENT-BEACON-LOSS"))
	if ok, err := dev0.SSIDVerified(); err != nil || !ok {
		s.Fatal("ssid_verified=1 not in STATUS")
	}
}

// runBeaconProtectionMismatch replaces the AP BIGTK in the driver with
// an all-zero key, or removes it when remove is set, so the station sees
// beacons with a bad MIC or no MME.
func runBeaconProtectionMismatch(ctx context.Context, s *harness.State, remove bool) {
	ap := startBeaconProtAP(ctx, s, "AES-128-CMAC")
	sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, beaconSSID, beaconProtSTA())

	k := hostapd.Key{
		Alg:   hostapd.AlgIGTK,
		Addr:  wpactrl.BroadcastAddr,
		Index: 6,
		Set:   true,
		Seq:   make([]byte, 6),
		Key:   make([]byte, 16),
		Flags: hostapd.KeyFlagGroupTxDefault,
	}
	if remove {
		k.Alg = hostapd.AlgNone
		k.Key = nil
		k.Flags = hostapd.KeyFlagGroup
	}
	check(s, ap.SetKey(k))

	if _, err := dev.WaitEvent(ctx, 5*time.Second, "CTRL-EVENT-UNPROT-BEACON"); err != nil {
		s.Fatal("Unprotected Beacon frame not reported: ", err)
	}
	if _, err := dev.WaitEvent(ctx, 5*time.Second, "CTRL-EVENT-BEACON-LOSS"); err != nil {
		s.Fatal("Beacon loss not reported: ", err)
	}
	if _, err := ap.WaitEvent(ctx, 5*time.Second, "CTRL-EVENT-UNPROT-BEACON"); err != nil {
		s.Fatal("WNM-Notification Request frame not reported: ", err)
	}
}

func apPMFBeaconProtectionReconnect(ctx context.Context, s *harness.State) {
	ap := startBeaconProtAP(ctx, s, "AES-128-CMAC")
	dev := s.Dev[0]
	connect(ctx, s, dev, beaconSSID, beaconProtSTA())

	check(s, dev.Disconnect())
	if _, err := dev.WaitDisconnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	check(s, dev.Reconnect())
	if _, err := dev.WaitConnected(ctx, 0); err != nil {
		s.Fatal(err)
	}
	time.Sleep(time.Second)
	checkBIGTK(s, dev, ap)
	check(s, harness.RequireNoEvent(ctx, dev, 5*time.Second, "Beacon loss detected", "CTRL-EVENT-BEACON-LOSS"))
}

func ie(id uint8, info string) *layers.Dot11InformationElement {
	return frame.IE(layers.Dot11InformationElementID(id), frame.MustHex(info))
}

// forgedBeaconIEs announce a channel switch (CSA and ECSA) that a
// station must ignore unless the beacon is protected.
var forgedBeaconIEs = []*layers.Dot11InformationElement{
	frame.IE(layers.Dot11InformationElementIDSSID, []byte(beaconSSID)),
	ie(0x01, "82848b960c121824"),
	ie(0x03, "01"),
	ie(0x05, "00020000"),
	ie(0x2a, "04"),
	ie(0x32, "3048606c"),
	ie(0x30, "0100000fac040100000fac040100000fac06cc00"),
	ie(0x3b, "5100"),
	ie(0x2d, "0c001bffff000000000000000000000100000000000000000000"),
	ie(0x3d, "01000000000000000000000000000000000000000000"),
	ie(0x7f, "0400000200000040000010"),
	ie(0x25, "000b01"),
	ie(0x3c, "00510b01"),
	ie(0xdd, "0050f2020101010003a4000027a4000042435e0062322f00"),
}

// forgedMME is a Management MIC element with key id 6 and a MIC that
// does not verify.
var forgedMME = ie(0x4c, "06002100000000002b8fab24bcef3bb1")

// requireIgnoredBeacon checks that dev did not act on the forged
// channel switch. Reporting the unprotected beacon is allowed.
func requireIgnoredBeacon(ctx context.Context, s *harness.State, dev *supplicant.Station, bssid string) {
	ev, ok, err := harness.WaitOptional(ctx, dev, 5*time.Second,
		"CTRL-EVENT-UNPROT-BEACON", "CTRL-EVENT-STARTED-CHANNEL-SWITCH")
	check(s, err)
	if !ok {
		return
	}
	if ev.Contains("CTRL-EVENT-STARTED-CHANNEL-SWITCH") {
		s.Fatal("Unexpected channel switch reported")
	}
	if !ev.Contains(bssid) {
		s.Fatal("Unexpected BSSID in unprotected beacon indication")
	}
}

func apPMFBeaconProtectionUnicast(ctx context.Context, s *harness.State) {
	ap := startBeaconProtAP(ctx, s, "AES-128-CMAC")
	sniff(ctx, s)
	dev := s.Dev[0]
	connect(ctx, s, dev, beaconSSID, beaconProtSTA())
	if _, err := ap.WaitSTA(ctx, "", false); err != nil {
		s.Fatal(err)
	}

	sock := sniffer(ctx, s)
	bssid, sta := injectPeers(s, ap, dev)
	fields := frame.BeaconFields{Timestamp: 0x000609270d26a0c0, Interval: 100, Capab: 0x0411}

	f, err := frame.Beacon(sta, bssid, fields, forgedBeaconIEs...)
	send(s, sock, f, err)
	requireIgnoredBeacon(ctx, s, dev, bssid.String())

	time.Sleep(10100 * time.Millisecond)
	withMME := append(append([]*layers.Dot11InformationElement(nil), forgedBeaconIEs...), forgedMME)
	f, err = frame.Beacon(sta, bssid, fields, withMME...)
	send(s, sock, f, err)
	requireIgnoredBeacon(ctx, s, dev, bssid.String())
}
