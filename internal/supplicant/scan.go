package supplicant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl"
)

// ErrBSSNotFound is returned by ScanForBSS when the BSS never shows up.
var ErrBSSNotFound = errors.New("could not find BSS in scan")

const scanForBSSAttempts = 10

// Scan triggers a scan and waits for the results. A zero freq scans all
// channels.
func (s *Station) Scan(ctx context.Context, freq int, onlyNew bool) error {
	cmd := "SCAN"
	if freq != 0 {
		cmd += fmt.Sprintf(" freq=%d", freq)
	}
	if onlyNew {
		cmd += " only_new=1"
	}
	reply, err := s.Request(cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return fmt.Errorf("failed to trigger scan: %q", strings.TrimSpace(reply))
	}
	if _, err := s.WaitEvent(ctx, scanTimeout, "CTRL-EVENT-SCAN-RESULTS"); err != nil {
		return fmt.Errorf("scan timed out: %w", err)
	}
	return nil
}

// ScanResults returns the SCAN_RESULTS table.
func (s *Station) ScanResults() (string, error) {
	return s.Request("SCAN_RESULTS")
}

// BSS returns the BSS table entry for bssid. The bool is false when
// the BSS is not known.
func (s *Station) BSS(bssid string) (map[string]string, bool, error) {
	reply, err := s.Request("BSS " + bssid)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(reply) == "" || wpactrl.IsFail(reply) {
		return nil, false, nil
	}
	kv, err := wpactrl.ParseKV([]byte(reply))
	if err != nil {
		return nil, false, err
	}
	return kv, true, nil
}

// ScanForBSS scans on freq until bssid is in the BSS table.
func (s *Station) ScanForBSS(ctx context.Context, bssid string, freq int) error {
	if _, ok, err := s.BSS(bssid); err != nil || ok {
		return err
	}
	for i := 0; i < scanForBSSAttempts; i++ {
		if err := s.Scan(ctx, freq, false); err != nil {
			return err
		}
		if _, ok, err := s.BSS(bssid); err != nil || ok {
			return err
		}
	}
	return fmt.Errorf("%s: %w", bssid, ErrBSSNotFound)
}

// BSSFlush removes BSS entries older than age seconds. Zero removes all
// entries not in use.
func (s *Station) BSSFlush(age int) error {
	return s.RequestOK(fmt.Sprintf("BSS_FLUSH %d", age))
}

// FlushScanCache removes cached scan results, scanning an empty channel
// so that the driver's cache is cleared too.
func (s *Station) FlushScanCache(ctx context.Context) error {
	for _, freq := range []int{2417, 2422} {
		if err := s.BSSFlush(0); err != nil {
			return err
		}
		if err := s.Scan(ctx, freq, true); err != nil {
			return err
		}
		res, err := s.ScanResults()
		if err != nil {
			return err
		}
		if len(strings.Split(strings.TrimSpace(res), "\n")) <= 1 {
			return nil
		}
		s.logger.Printf("%s: scan results remaining after flush:\n%s", s.ifname, res)
	}
	return nil
}
