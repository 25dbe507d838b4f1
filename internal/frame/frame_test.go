package frame

import (
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	testBSSID = MustAddr("02:00:00:00:03:00")
	testSTA   = MustAddr("02:00:00:00:00:00")
)

const (
	bssidHex = "020000000300"
	staHex   = "020000000000"
)

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in      string
		want    net.HardwareAddr
		wantErr bool
	}{
		{in: "02:00:00:00:03:00", want: net.HardwareAddr{2, 0, 0, 0, 3, 0}},
		{in: "021122334455", want: net.HardwareAddr{2, 0x11, 0x22, 0x33, 0x44, 0x55}},
		{in: "ff:ff:ff:ff:ff:ff", want: Broadcast},
		{in: "foo", wantErr: true},
		{in: "zz1122334455", wantErr: true},
		{in: "00:00:00:00:fe:80:00:00", wantErr: true},
	}

	for _, c := range cases {
		got, err := ParseAddr(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAddr(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAddr(%q) err: %v", c.in, err)
		}
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("ParseAddr(%q) (-want +got):\n%s", c.in, diff)
		}
	}
}

func TestAuth(t *testing.T) {
	for _, sa := range []string{staHex, "021122334455", "000000000000", "ffffffffffff"} {
		got, err := Auth(testBSSID, MustAddr(sa))
		if err != nil {
			t.Fatal(err)
		}
		want := "b0003a01" + bssidHex + sa + bssidHex + "1000000001000000"
		if Hex(got) != want {
			t.Errorf("Auth(%s):\ngot  %s\nwant %s", sa, Hex(got), want)
		}
	}
}

func TestAssocReq(t *testing.T) {
	base := "00003a01" + bssidHex + staHex + bssidHex + "2000" + "31040500" +
		"0008746573742d706d66" + "010802040b160c121824"

	cases := []struct {
		name  string
		extra []*layers.Dot11InformationElement
		want  string
	}{
		{
			name: "no RSNE",
			want: base,
		},
		{
			name:  "empty RSNE",
			extra: []*layers.Dot11InformationElement{IE(layers.Dot11InformationElementIDRSNInfo, nil)},
			want:  base + "3000",
		},
		{
			name: "RSNE with PMKID list",
			extra: []*layers.Dot11InformationElement{IE(layers.Dot11InformationElementIDRSNInfo,
				MustHex("0100000fac040100000fac040100000fac06c0000000000fac06"))},
			want: base + "301a0100000fac040100000fac040100000fac06c0000000000fac06",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := AssocReq(testBSSID, testSTA, "test-pmf", c.extra...)
			if err != nil {
				t.Fatal(err)
			}
			if Hex(got) != c.want {
				t.Errorf("got  %s\nwant %s", Hex(got), c.want)
			}
		})
	}
}

func TestNullData(t *testing.T) {
	got, err := NullData(testBSSID, Broadcast)
	if err != nil {
		t.Fatal(err)
	}
	want := "48010000" + bssidHex + "ffffffffffff" + bssidHex + "0000"
	if Hex(got) != want {
		t.Errorf("got  %s\nwant %s", Hex(got), want)
	}
}

func TestEAPOL(t *testing.T) {
	cases := []struct {
		name string
		dir  Direction
		want string
	}{
		{
			name: "to STA",
			dir:  ToSTA,
			want: "88020000" + staHex + bssidHex + bssidHex + "0000" + "0700" + "aaaa03000000888e" + "02010000",
		},
		{
			name: "to AP",
			dir:  ToAP,
			want: "88010000" + bssidHex + staHex + bssidHex + "0000" + "0700" + "aaaa03000000888e" + "02010000",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := EAPOL(c.dir, testSTA, testBSSID, MustHex("02010000"))
			if err != nil {
				t.Fatal(err)
			}
			if Hex(got) != c.want {
				t.Errorf("got  %s\nwant %s", Hex(got), c.want)
			}
		})
	}

	if _, err := EAPOL(Direction(5), testSTA, testBSSID, nil); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestBeacon(t *testing.T) {
	got, err := Beacon(testSTA, testBSSID,
		BeaconFields{Timestamp: 0x000609270d26a0c0, Interval: 100, Capab: 0x0411},
		IE(layers.Dot11InformationElementIDSSID, []byte("test-beacon-prot")),
		IE(layers.Dot11InformationElementIDDSSet, []byte{1}),
	)
	if err != nil {
		t.Fatal(err)
	}
	want := "80000000" + staHex + bssidHex + bssidHex + "0000" +
		"c0a0260d27090600" + "6400" + "1104" +
		"0010746573742d626561636f6e2d70726f74" + "030101"
	if Hex(got) != want {
		t.Errorf("got  %s\nwant %s", Hex(got), want)
	}
}

func TestAction(t *testing.T) {
	got, err := Action(testSTA, testBSSID, testBSSID, MustHex("00042503000608"))
	if err != nil {
		t.Fatal(err)
	}
	want := "d0000000" + staHex + bssidHex + bssidHex + "0000" + "00042503000608"
	if Hex(got) != want {
		t.Errorf("got  %s\nwant %s", Hex(got), want)
	}
}

func TestParseMgmt(t *testing.T) {
	// Deauthentication, reason 7, seq 3.
	f := MustHex("c0003a01" + staHex + bssidHex + bssidHex + "3000" + "0700")

	got, err := ParseMgmt(f)
	if err != nil {
		t.Fatal(err)
	}
	want := Header{
		FC:      0x00c0,
		Type:    layers.Dot11TypeMgmtDeauthentication,
		DA:      testSTA,
		SA:      testBSSID,
		BSSID:   testBSSID,
		SeqCtrl: 0x0030,
		Payload: []byte{0x07, 0x00},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseMgmt (-want +got):\n%s", diff)
	}
	if st := got.Subtype(); st != 12 {
		t.Errorf("Subtype() = %d, want 12", st)
	}

	if _, err := ParseMgmt(MustHex("48010000")); err == nil {
		t.Error("expected error for truncated frame")
	}
	null, _ := NullData(testBSSID, testSTA)
	if _, err := ParseMgmt(null); err == nil {
		t.Error("expected error for data frame")
	}
}

func TestRadioTap(t *testing.T) {
	f, err := Auth(testBSSID, testSTA)
	if err != nil {
		t.Fatal(err)
	}
	b, err := WithRadioTap(f)
	if err != nil {
		t.Fatal(err)
	}

	p := Decode(f)
	if l := p.Layer(layers.LayerTypeDot11); l == nil {
		t.Fatal("Dot11 layer missing")
	}

	rt, err := RadioTap()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, b[len(rt):]); diff != "" {
		t.Errorf("frame after radiotap (-want +got):\n%s", diff)
	}

	var hdr layers.RadioTap
	if err := hdr.DecodeFromBytes(rt, gopacket.NilDecodeFeedback); err != nil {
		t.Fatalf("decoding radiotap: %v", err)
	}
	if hdr.Rate != injectRate {
		t.Errorf("Rate = %v, want %v", hdr.Rate, injectRate)
	}
	if int(hdr.Length) != len(rt) {
		t.Errorf("Length = %d, want %d", hdr.Length, len(rt))
	}
}
