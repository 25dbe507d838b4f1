package harness

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/report"
	"github.com/awilliams/hwsim-pmf/internal/wpactrl/wpactrltest"
)

// rejectingEnv returns an Env whose hostapd BSS on wlan3 replies FAIL to
// any SET of field.
func rejectingEnv(t *testing.T, field string) *Env {
	t.Helper()
	dir := t.TempDir()
	ctrl := filepath.Join(dir, "ctrl")
	if err := os.Mkdir(ctrl, 0o755); err != nil {
		t.Fatal(err)
	}

	g := wpactrltest.Start(t, filepath.Join(dir, "global"), wpactrltest.DefaultHandler(map[string]string{
		"ADD":    "OK",
		"REMOVE": "OK",
	}))
	bss := wpactrltest.DefaultHandler(map[string]string{"ENABLE": "OK"})
	bss.Handle("SET", func(args string) string {
		if strings.HasPrefix(args, field+" ") {
			return "FAIL"
		}
		return "OK"
	})
	wpactrltest.Start(t, filepath.Join(ctrl, "wlan3"), bss)

	global, err := hostapd.DialGlobal(dir, g.Addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { global.Close() })

	return &Env{
		APDev:    []APDev{{Ifname: "wlan3", BSSID: "02:00:00:00:03:00"}},
		Hostapd:  global,
		Logger:   log.New(io.Discard, "", 0),
		Topology: Topology{LocalDir: dir, HostapdCtrlDir: ctrl},
	}
}

func TestSkipOnParamError(t *testing.T) {
	cases := []struct {
		reject  string
		status  report.Status
		message string
	}{
		{reject: "ocv", status: report.StatusSkip, message: "OCV not supported"},
		{reject: "wpa_key_mgmt", status: report.StatusFail, message: "wpa_key_mgmt"},
		{reject: "ieee80211w", status: report.StatusFail, message: "ieee80211w"},
	}
	for _, c := range cases {
		t.Run(c.reject, func(t *testing.T) {
			env := rejectingEnv(t, c.reject)
			rec := &recorder{}
			_, err := NewRunner(env, WithReporters(rec)).Run(context.Background(), []*Test{{
				Name: "ocv",
				Func: func(ctx context.Context, s *State) {
					_, err := s.StartAP(ctx, 0, hostapd.Params{
						"ssid":         "test-pmf-required",
						"wpa_key_mgmt": "WPA-PSK-SHA256",
						"ieee80211w":   "2",
						"ocv":          "1",
					}, hostapd.NoWait())
					s.SkipOnParamError(err, "ocv", "OCV")
				},
			}})
			if err != nil {
				t.Fatal(err)
			}
			if len(rec.results) != 1 {
				t.Fatalf("got %d results; want 1", len(rec.results))
			}
			res := rec.results[0]
			if res.Status != c.status || !strings.Contains(res.Message, c.message) {
				t.Errorf("got %s %q; want %s containing %q", res.Status, res.Message, c.status, c.message)
			}
		})
	}
}
