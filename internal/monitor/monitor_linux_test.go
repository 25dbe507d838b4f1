package monitor

import (
	"errors"
	"fmt"
	"testing"
)

func TestLookupIndex(t *testing.T) {
	fallback := func(string) (int, error) { return 9, nil }

	cases := []struct {
		name    string
		nl      func(string) (int, error)
		want    int
		wantErr error
	}{
		{
			name: "nl80211",
			nl:   func(string) (int, error) { return 4, nil },
			want: 4,
		},
		{
			name: "not found",
			nl:   func(string) (int, error) { return 0, errNotFound },
			want: 9,
		},
		{
			name: "no nl80211",
			nl:   func(string) (int, error) { return 0, errors.New("genetlink: family not found") },
			want: 9,
		},
		{
			name: "managed",
			nl: func(ifname string) (int, error) {
				return 0, fmt.Errorf("%s is station: %w", ifname, errNotMonitor)
			},
			wantErr: errNotMonitor,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := lookupIndex("wlan5", tc.nl, fallback)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v; want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("index = %d; want %d", got, tc.want)
			}
		})
	}
}
