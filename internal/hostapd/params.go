package hostapd

// Params is a hostapd BSS configuration, applied with SET.
type Params map[string]string

// Clone returns a copy of p.
func (p Params) Clone() Params {
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// WPA2Params returns a WPA2-Personal configuration.
func WPA2Params(ssid, passphrase string) Params {
	return Params{
		"wpa":            "2",
		"wpa_key_mgmt":   "WPA-PSK",
		"rsn_pairwise":   "CCMP",
		"ssid":           ssid,
		"wpa_passphrase": passphrase,
	}
}

// RadiusParams points the BSS at the local RADIUS authentication server.
func RadiusParams() Params {
	return Params{
		"auth_server_addr":          "127.0.0.1",
		"auth_server_port":          "1812",
		"auth_server_shared_secret": "radius",
		"nas_identifier":            "nas.w1.fi",
	}
}

// WPA2EAPParams returns a WPA2-Enterprise configuration using the local
// RADIUS server.
func WPA2EAPParams(ssid string) Params {
	p := RadiusParams()
	p["ssid"] = ssid
	p["wpa"] = "2"
	p["wpa_key_mgmt"] = "WPA-EAP"
	p["rsn_pairwise"] = "CCMP"
	p["ieee8021x"] = "1"
	return p
}
