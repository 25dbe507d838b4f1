package supplicant

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// Connection timeouts used by Connect.
const (
	connectTimeout    = 15 * time.Second
	connectEAPTimeout = 20 * time.Second
)

// Network holds the network block fields used by Connect. Empty fields
// are left at the wpa_supplicant default.
type Network struct {
	PSK               string
	KeyMgmt           string
	IEEE80211w        string
	Proto             string
	Pairwise          string
	Group             string
	ScanFreq          string
	BSSID             string
	OCV               string
	BeaconProt        string
	EAP               string
	Identity          string
	AnonymousIdentity string
	Password          string
	// PasswordHex is set as password=hex:<value>.
	PasswordHex string
	CACert      string
	Phase2      string

	// Extra fields are set unquoted, in key order, after all others.
	Extra map[string]string

	// NoWait returns after SELECT_NETWORK without waiting for
	// CTRL-EVENT-CONNECTED.
	NoWait bool
	// Timeout overrides the connection timeout.
	Timeout time.Duration
}

type netField struct {
	name   string
	value  string
	quoted bool
}

func (n Network) fields(ssid string) []netField {
	fs := []netField{
		{"ssid", ssid, true},
		{"psk", n.PSK, true},
		{"identity", n.Identity, true},
		{"anonymous_identity", n.AnonymousIdentity, true},
		{"password", n.Password, true},
		{"ca_cert", n.CACert, true},
		{"phase2", n.Phase2, true},
		{"proto", n.Proto, false},
		{"key_mgmt", n.KeyMgmt, false},
		{"ieee80211w", n.IEEE80211w, false},
		{"pairwise", n.Pairwise, false},
		{"group", n.Group, false},
		{"scan_freq", n.ScanFreq, false},
		{"eap", n.EAP, false},
		{"bssid", n.BSSID, false},
		{"ocv", n.OCV, false},
		{"beacon_prot", n.BeaconProt, false},
	}
	if n.PasswordHex != "" {
		fs = append(fs, netField{"password", "hex:" + n.PasswordHex, false})
	}

	keys := make([]string, 0, len(n.Extra))
	for k := range n.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fs = append(fs, netField{k, n.Extra[k], false})
	}

	out := fs[:0]
	for _, f := range fs {
		if f.value != "" {
			out = append(out, f)
		}
	}
	return out
}

// Connect adds a network for ssid, selects it and, unless n.NoWait is
// set, waits for the connection. The network id is returned.
func (s *Station) Connect(ctx context.Context, ssid string, n Network) (int, error) {
	s.logger.Printf("%s: connect to %q", s.ifname, ssid)

	id, err := s.AddNetwork()
	if err != nil {
		return -1, err
	}
	for _, f := range n.fields(ssid) {
		set := s.SetNetwork
		if f.quoted {
			set = s.SetNetworkQuoted
		}
		if err := set(id, f.name, f.value); err != nil {
			return id, err
		}
	}

	if n.NoWait {
		s.DumpMonitor()
		return id, s.SelectNetwork(id)
	}

	timeout := n.Timeout
	if timeout == 0 {
		timeout = connectTimeout
		if n.EAP != "" {
			timeout = connectEAPTimeout
		}
	}
	return id, s.ConnectNetwork(ctx, id, timeout)
}

// ConnectNetwork selects an existing network and waits for the
// connection.
func (s *Station) ConnectNetwork(ctx context.Context, id int, timeout time.Duration) error {
	s.DumpMonitor()
	if err := s.SelectNetwork(id); err != nil {
		return err
	}
	if _, err := s.WaitConnected(ctx, timeout); err != nil {
		return err
	}
	s.DumpMonitor()
	return nil
}

// AddNetwork creates an empty network block.
func (s *Station) AddNetwork() (int, error) {
	reply, err := s.Request("ADD_NETWORK")
	if err != nil {
		return -1, err
	}
	if wpactrl.IsFail(reply) {
		return -1, fmt.Errorf("ADD_NETWORK failed: %q", strings.TrimSpace(reply))
	}
	id, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return -1, fmt.Errorf("ADD_NETWORK reply %q: %w", reply, err)
	}
	return id, nil
}

// SetNetwork sets a raw network field.
func (s *Station) SetNetwork(id int, field, value string) error {
	cmd := fmt.Sprintf("SET_NETWORK %d %s %s", id, field, value)
	reply, err := s.Request(cmd)
	if err != nil {
		return err
	}
	if wpactrl.IsFail(reply) {
		return fmt.Errorf("failed to set network parameter %s: %w", field,
			&wpactrl.ErrFailed{Cmd: cmd, Reply: strings.TrimSpace(reply)})
	}
	return nil
}

// SetNetworkQuoted sets a string network field.
func (s *Station) SetNetworkQuoted(id int, field, value string) error {
	return s.SetNetwork(id, field, `"`+value+`"`)
}

// SelectNetwork enables id and disables all other networks.
func (s *Station) SelectNetwork(id int) error {
	return s.RequestOK(fmt.Sprintf("SELECT_NETWORK %d", id))
}

// RemoveNetwork removes a network, or all networks for "all".
func (s *Station) RemoveNetwork(id string) error {
	return s.RequestOK("REMOVE_NETWORK " + id)
}
