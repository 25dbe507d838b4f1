package mac80211

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/awilliams/hwsim-pmf/internal/syscmd/syscmdtest"
)

func writeKey(t *testing.T, root, phy, name string, fields map[string]string) {
	t.Helper()
	dir := filepath.Join(root, phy, "keys", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func bigtk(pn string) map[string]string {
	return map[string]string{
		"keyidx":    "6",
		"key":       "0102030405060708090a0b0c0d0e0f10",
		"algorithm": "BIP",
		"replays":   "0",
		"icverrors": "0",
		"rx_spec":   pn,
		"tx_spec":   pn,
	}
}

func TestReadKeys(t *testing.T) {
	root := t.TempDir()
	writeKey(t, root, "phy0", "1", map[string]string{"keyidx": "1", "algorithm": "CCMP"})
	writeKey(t, root, "phy0", "2", bigtk("000000000004"))

	keys, err := Debugfs{Root: root}.ReadKeys("phy0")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys; want 2", len(keys))
	}
	k, ok := FindBIGTK(keys)
	if !ok {
		t.Fatal("BIGTK not found")
	}
	if diff := cmp.Diff(Key{Name: "2", Fields: bigtk("000000000004")}, k); diff != "" {
		t.Errorf("BIGTK mismatch (-want +got):\n%s", diff)
	}

	if _, err := (Debugfs{Root: root}).ReadKeys("phy9"); !errors.Is(err, ErrDebugfsUnsupported) {
		t.Errorf("got %v; want ErrDebugfsUnsupported", err)
	}
}

func TestCheckBIGTK(t *testing.T) {
	key := func(mod func(map[string]string)) Key {
		f := bigtk("000000000003")
		if mod != nil {
			mod(f)
		}
		return Key{Name: "k", Fields: f}
	}

	tests := []struct {
		name    string
		ap, sta Key
		wantErr string
	}{
		{name: "ok", ap: key(nil), sta: key(nil)},
		{
			name:    "key",
			ap:      key(nil),
			sta:     key(func(f map[string]string) { f["key"] = "00" }),
			wantErr: "AP and STA BIGTK mismatch",
		},
		{
			name:    "keyidx",
			ap:      key(func(f map[string]string) { f["keyidx"] = "7" }),
			sta:     key(nil),
			wantErr: "AP and STA BIGTK keyidx mismatch",
		},
		{
			name:    "algorithm",
			ap:      key(nil),
			sta:     key(func(f map[string]string) { f["algorithm"] = "BIP-GMAC-256" }),
			wantErr: "AP and STA BIGTK algorithm mismatch",
		},
		{
			name:    "replays",
			ap:      key(nil),
			sta:     key(func(f map[string]string) { f["replays"] = "2" }),
			wantErr: "STA reported errors: replays=2 icverrors=0",
		},
		{
			name:    "rx",
			ap:      key(nil),
			sta:     key(func(f map[string]string) { f["rx_spec"] = "000000000002" }),
			wantErr: "STA did not update BIGTK receive counter sufficiently",
		},
		{
			name:    "tx",
			ap:      key(func(f map[string]string) { f["tx_spec"] = "000000000001" }),
			sta:     key(nil),
			wantErr: "AP did not update BIGTK BIPN sufficiently",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBIGTK(tt.ap, tt.sta)
			var got string
			if err != nil {
				got = err.Error()
			}
			if got != tt.wantErr {
				t.Errorf("got %q; want %q", got, tt.wantErr)
			}
		})
	}
}

func TestStationMFP(t *testing.T) {
	const addr = "02:00:00:00:00:00"
	r := &syscmdtest.Fake{
		Results: map[string]syscmdtest.Result{
			"iw dev wlan3 station get " + addr: {Output: "Station 02:00:00:00:00:00 (on wlan3)\n\tauthorized:\tyes\n\tMFP:\t\tyes\n"},
			"iw dev wlan4 station get " + addr: {Output: "Station 02:00:00:00:00:00 (on wlan4)\n\tMFP:\t\tno\n"},
		},
	}
	ctx := context.Background()

	mfp, err := StationMFP(ctx, r, "wlan3", addr)
	if err != nil {
		t.Fatal(err)
	}
	if !mfp {
		t.Error("wlan3: MFP not reported")
	}
	mfp, err = StationMFP(ctx, r, "wlan4", addr)
	if err != nil {
		t.Fatal(err)
	}
	if mfp {
		t.Error("wlan4: MFP unexpectedly reported")
	}
	if _, err := StationMFP(ctx, r, "wlan5", addr); err == nil {
		t.Error("expected error for missing MFP line")
	}
}
