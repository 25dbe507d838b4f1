package wlantest

import (
	"context"
	"errors"
	"strings"
)

// RSN capability and AKM strings reported by info_bss and info_sta.
const (
	capMFPR       = "MFPR"
	capMFPC       = "MFPC"
	akmPSKSHA256  = "PSK-SHA256"
	fieldRSNCapab = "rsn_capab"
	fieldKeyMgmt  = "key_mgmt"
)

// RequireAPPMFMandatory checks that the AP requires PMF with a SHA256 AKM.
func (c *Client) RequireAPPMFMandatory(ctx context.Context, bssid string) error {
	capab, err := c.InfoBSS(ctx, fieldRSNCapab, bssid)
	if err != nil {
		return err
	}
	if !strings.Contains(capab, capMFPR) {
		return errors.New("AP did not require PMF")
	}
	if !strings.Contains(capab, capMFPC) {
		return errors.New("AP did not enable PMF")
	}
	km, err := c.InfoBSS(ctx, fieldKeyMgmt, bssid)
	if err != nil {
		return err
	}
	if !strings.Contains(km, akmPSKSHA256) {
		return errors.New("AP did not enable SHA256-based AKM for PMF")
	}
	return nil
}

// RequireAPPMFOptional checks that the AP enables but does not require PMF.
func (c *Client) RequireAPPMFOptional(ctx context.Context, bssid string) error {
	capab, err := c.InfoBSS(ctx, fieldRSNCapab, bssid)
	if err != nil {
		return err
	}
	if strings.Contains(capab, capMFPR) {
		return errors.New("AP required PMF")
	}
	if !strings.Contains(capab, capMFPC) {
		return errors.New("AP did not enable PMF")
	}
	return nil
}

// RequireAPNoPMF checks that the AP does not advertise PMF.
func (c *Client) RequireAPNoPMF(ctx context.Context, bssid string) error {
	capab, err := c.InfoBSS(ctx, fieldRSNCapab, bssid)
	if err != nil {
		return err
	}
	if strings.Contains(capab, capMFPR) {
		return errors.New("AP required PMF")
	}
	if strings.Contains(capab, capMFPC) {
		return errors.New("AP enabled PMF")
	}
	return nil
}

// RequireSTAPMFMandatory checks that the STA required PMF.
func (c *Client) RequireSTAPMFMandatory(ctx context.Context, bssid, addr string) error {
	capab, err := c.InfoSTA(ctx, fieldRSNCapab, bssid, addr)
	if err != nil {
		return err
	}
	if !strings.Contains(capab, capMFPR) {
		return errors.New("STA did not require PMF")
	}
	if !strings.Contains(capab, capMFPC) {
		return errors.New("STA did not enable PMF")
	}
	return nil
}

// RequireSTAPMF checks that the STA enabled PMF.
func (c *Client) RequireSTAPMF(ctx context.Context, bssid, addr string) error {
	capab, err := c.InfoSTA(ctx, fieldRSNCapab, bssid, addr)
	if err != nil {
		return err
	}
	if !strings.Contains(capab, capMFPC) {
		return errors.New("STA did not enable PMF")
	}
	return nil
}

// RequireSTANoPMF checks that the STA did not enable PMF.
func (c *Client) RequireSTANoPMF(ctx context.Context, bssid, addr string) error {
	capab, err := c.InfoSTA(ctx, fieldRSNCapab, bssid, addr)
	if err != nil {
		return err
	}
	if strings.Contains(capab, capMFPC) {
		return errors.New("STA enabled PMF")
	}
	return nil
}

// RequireSTAKeyMgmt checks the AKM the STA selected.
func (c *Client) RequireSTAKeyMgmt(ctx context.Context, bssid, addr, keyMgmt string) error {
	km, err := c.InfoSTA(ctx, fieldKeyMgmt, bssid, addr)
	if err != nil {
		return err
	}
	if !strings.Contains(km, keyMgmt) {
		return errors.New("unexpected STA key_mgmt: " + km)
	}
	return nil
}
