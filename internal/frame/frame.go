// Package frame builds raw IEEE 802.11 frames for injection through a
// monitor interface or hostapd's MGMT_RX_PROCESS command. Frames are laid
// out with gopacket layers and never carry an FCS.
package frame

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Duration/ID used by management frames hostapd and wpa_supplicant send
// at 1 Mb/s.
const mgmtDuration = 0x013a

// Broadcast is the all-ones address.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseAddr parses a MAC address in either XX:XX:XX:XX:XX:XX or bare
// twelve digit hex form.
func ParseAddr(s string) (net.HardwareAddr, error) {
	if len(s) == 12 && !strings.Contains(s, ":") {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return net.HardwareAddr(b), nil
	}
	a, err := net.ParseMAC(s)
	if err != nil {
		return nil, err
	}
	if len(a) != 6 {
		return nil, fmt.Errorf("invalid address %q: not EUI-48", s)
	}
	return a, nil
}

// MustAddr is like ParseAddr but panics on error.
func MustAddr(s string) net.HardwareAddr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Hex encodes b as lower case hex, the form control interface commands
// take frames in.
func Hex(b []byte) string {
	return hex.EncodeToString(b)
}

// MustHex decodes s and panics if it is not valid hex.
func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("frame: invalid hex %q: %v", s, err))
	}
	return b
}

// IE returns an information element with the given body.
func IE(id layers.Dot11InformationElementID, info []byte) *layers.Dot11InformationElement {
	return &layers.Dot11InformationElement{ID: id, Length: uint8(len(info)), Info: info}
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

func withIEs(head []gopacket.SerializableLayer, ies []*layers.Dot11InformationElement) []gopacket.SerializableLayer {
	for _, ie := range ies {
		head = append(head, ie)
	}
	return head
}

// Mgmt builds a management frame of type t with an opaque body. This
// matches hostapd's MGMT_TX layout: no duration and a zero sequence
// control field.
func Mgmt(t layers.Dot11Type, da, sa, bssid net.HardwareAddr, body []byte) ([]byte, error) {
	return serialize(
		&layers.Dot11{Type: t, Address1: da, Address2: sa, Address3: bssid},
		gopacket.Payload(body),
	)
}

// Action builds an Action frame carrying payload, starting with the
// category octet.
func Action(da, sa, bssid net.HardwareAddr, payload []byte) ([]byte, error) {
	return Mgmt(layers.Dot11TypeMgmtAction, da, sa, bssid, payload)
}

// Auth builds an open system Authentication frame, transaction sequence
// 1, from sa to the AP at bssid.
func Auth(bssid, sa net.HardwareAddr) ([]byte, error) {
	return serialize(
		&layers.Dot11{
			Type:           layers.Dot11TypeMgmtAuthentication,
			DurationID:     mgmtDuration,
			Address1:       bssid,
			Address2:       sa,
			Address3:       bssid,
			SequenceNumber: 1,
		},
		&layers.Dot11MgmtAuthentication{
			Algorithm: layers.Dot11AlgorithmOpen,
			Sequence:  1,
			Status:    layers.Dot11StatusSuccess,
		},
	)
}

// Capability info and listen interval used by injected Association
// Request frames.
const (
	assocCapab  = 0x0431
	assocListen = 5
)

var basicRates = []byte{0x02, 0x04, 0x0b, 0x16, 0x0c, 0x12, 0x18, 0x24}

// AssocReq builds an Association Request from sa for ssid. The SSID and
// supported rates elements are always present, extra elements (such as
// an RSNE) follow them in order.
func AssocReq(bssid, sa net.HardwareAddr, ssid string, extra ...*layers.Dot11InformationElement) ([]byte, error) {
	ies := append([]*layers.Dot11InformationElement{
		IE(layers.Dot11InformationElementIDSSID, []byte(ssid)),
		IE(layers.Dot11InformationElementIDRates, basicRates),
	}, extra...)

	return serialize(withIEs([]gopacket.SerializableLayer{
		&layers.Dot11{
			Type:           layers.Dot11TypeMgmtAssociationReq,
			DurationID:     mgmtDuration,
			Address1:       bssid,
			Address2:       sa,
			Address3:       bssid,
			SequenceNumber: 2,
		},
		&layers.Dot11MgmtAssociationReq{
			CapabilityInfo: assocCapab,
			ListenInterval: assocListen,
		},
	}, ies)...)
}

// BeaconFields are the fixed fields of a Beacon frame.
type BeaconFields struct {
	Timestamp uint64
	Interval  uint16
	Capab     uint16
}

// Beacon builds a Beacon frame sent by bssid to da. Unicast da is how
// forged beacons are aimed at a single station.
func Beacon(da, bssid net.HardwareAddr, f BeaconFields, ies ...*layers.Dot11InformationElement) ([]byte, error) {
	return serialize(withIEs([]gopacket.SerializableLayer{
		&layers.Dot11{
			Type:     layers.Dot11TypeMgmtBeacon,
			Address1: da,
			Address2: bssid,
			Address3: bssid,
		},
		&layers.Dot11MgmtBeacon{
			Timestamp: f.Timestamp,
			Interval:  f.Interval,
			Flags:     f.Capab,
		},
	}, ies)...)
}

// NullData builds a Null Data frame sent by sa towards the AP at bssid.
func NullData(bssid, sa net.HardwareAddr) ([]byte, error) {
	return serialize(&layers.Dot11{
		Type:     layers.Dot11TypeDataNull,
		Flags:    layers.Dot11FlagsToDS,
		Address1: bssid,
		Address2: sa,
		Address3: bssid,
	})
}

// QoS control for TID 7 followed by an LLC/SNAP header with the EAPOL
// ethertype.
var eapolHdr = []byte{0x07, 0x00, 0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8e}

// Direction selects the DS bits of a data frame.
type Direction int

// Data frame directions.
const (
	ToSTA Direction = iota // From the DS, sent by the AP.
	ToAP                   // To the DS, sent by a station.
)

// EAPOL builds an unprotected QoS Data frame carrying an EAPOL body,
// e.g. "02010000" for EAPOL-Start. For ToSTA frames sta is the receiver
// and bssid the transmitter, ToAP reverses the two.
func EAPOL(dir Direction, sta, bssid net.HardwareAddr, body []byte) ([]byte, error) {
	d := &layers.Dot11{Type: layers.Dot11TypeDataQOSData, Address3: bssid}
	switch dir {
	case ToSTA:
		d.Flags = layers.Dot11FlagsFromDS
		d.Address1, d.Address2 = sta, bssid
	case ToAP:
		d.Flags = layers.Dot11FlagsToDS
		d.Address1, d.Address2 = bssid, sta
	default:
		return nil, fmt.Errorf("unknown direction %d", dir)
	}

	payload := make([]byte, 0, len(eapolHdr)+len(body))
	payload = append(payload, eapolHdr...)
	payload = append(payload, body...)
	return serialize(d, gopacket.Payload(payload))
}
