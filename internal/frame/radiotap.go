package frame

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// injectRate is 1 Mb/s in radiotap's 500 kb/s units.
const injectRate layers.RadioTapRate = 2

// RadioTap returns the radiotap header prepended to every injected frame.
func RadioTap() ([]byte, error) {
	return serialize(&layers.RadioTap{
		Present: layers.RadioTapPresentRate,
		Rate:    injectRate,
	})
}

// WithRadioTap prepends the injection radiotap header to f.
func WithRadioTap(f []byte) ([]byte, error) {
	rt, err := RadioTap()
	if err != nil {
		return nil, err
	}
	return append(rt, f...), nil
}

// fcsPad is appended before decoding, since gopacket always strips a
// trailing FCS from 802.11 frames.
var fcsPad = []byte{0, 0, 0, 0}

// Decode parses a frame without FCS for inspection.
func Decode(f []byte) gopacket.Packet {
	b := make([]byte, 0, len(f)+len(fcsPad))
	b = append(b, f...)
	b = append(b, fcsPad...)
	return gopacket.NewPacket(b, layers.LayerTypeDot11, gopacket.Default)
}

// Header is the decoded MAC header of a management frame as reported in
// hostapd MGMT-RX events.
type Header struct {
	FC      uint16
	Type    layers.Dot11Type
	DA      net.HardwareAddr
	SA      net.HardwareAddr
	BSSID   net.HardwareAddr
	SeqCtrl uint16
	// Payload is the frame body following the header.
	Payload []byte
}

// Subtype returns the frame control subtype, e.g. 12 for Deauthentication.
func (h Header) Subtype() uint8 {
	return uint8(h.FC>>4) & 0x0f
}

// ParseMgmt decodes the MAC header of a management frame.
func ParseMgmt(f []byte) (Header, error) {
	b := make([]byte, 0, len(f)+len(fcsPad))
	b = append(b, f...)
	b = append(b, fcsPad...)

	var d layers.Dot11
	if err := d.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return Header{}, fmt.Errorf("decoding frame: %w", err)
	}
	if d.Type.MainType() != layers.Dot11TypeMgmt {
		return Header{}, fmt.Errorf("not a management frame: %v", d.Type)
	}

	return Header{
		FC:      uint16(f[0]) | uint16(f[1])<<8,
		Type:    d.Type,
		DA:      d.Address1,
		SA:      d.Address2,
		BSSID:   d.Address3,
		SeqCtrl: d.SequenceNumber<<4 | d.FragmentNumber,
		Payload: f[len(d.Contents):],
	}, nil
}
