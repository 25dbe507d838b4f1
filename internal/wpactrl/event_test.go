package wpactrl

import "testing"

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		wantLevel int
		wantName  string
		wantText  string
	}{
		{
			name:      "connected",
			input:     "<3>AP-STA-CONNECTED 02:00:00:00:00:00",
			wantLevel: 3,
			wantName:  "AP-STA-CONNECTED",
			wantText:  "AP-STA-CONNECTED 02:00:00:00:00:00",
		},
		{
			name:      "no level",
			input:     "CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed",
			wantLevel: -1,
			wantName:  "CTRL-EVENT-CONNECTED",
			wantText:  "CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed",
		},
		{
			name:      "two digit level",
			input:     "<12>TEST",
			wantLevel: 12,
			wantName:  "TEST",
			wantText:  "TEST",
		},
		{
			name:      "strange",
			input:     "<x>?",
			wantLevel: -1,
			wantName:  "<x>?",
			wantText:  "<x>?",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseEvent(tc.input)
			if got.Level != tc.wantLevel {
				t.Errorf("Level: got %d; want %d", got.Level, tc.wantLevel)
			}
			if got.Name != tc.wantName {
				t.Errorf("Name: got %q; want %q", got.Name, tc.wantName)
			}
			if got.Text != tc.wantText {
				t.Errorf("Text: got %q; want %q", got.Text, tc.wantText)
			}
			if got.Raw() != tc.input {
				t.Errorf("Raw: got %q; want %q", got.Raw(), tc.input)
			}
		})
	}
}

func TestEvent_fields(t *testing.T) {
	e := parseEvent("<3>CTRL-EVENT-DISCONNECTED bssid=02:00:00:00:03:00 reason=7 locally_generated=1")

	if v, ok := e.Field("reason"); !ok || v != "7" {
		t.Errorf("Field(reason): got %q, %v; want %q", v, ok, "7")
	}
	if _, ok := e.Field("status_code"); ok {
		t.Error("Field(status_code): unexpected value")
	}
	if !e.LocallyGenerated() {
		t.Error("LocallyGenerated: got false; want true")
	}
	if got := e.Arg(1); got != "bssid=02:00:00:00:03:00" {
		t.Errorf("Arg(1): got %q", got)
	}
	if got := e.Arg(10); got != "" {
		t.Errorf("Arg(10): got %q; want empty", got)
	}
	if !e.Contains("FOO", "reason=7") {
		t.Error("Contains: expected match on second substring")
	}
	if e.Contains("reason=6") {
		t.Error("Contains: unexpected match")
	}
}

func TestIsMAC(t *testing.T) {
	for _, v := range []string{"02:00:00:00:00:00", "AB:cd:EF:12:34:56", BroadcastAddr} {
		if !IsMAC(v) {
			t.Errorf("IsMAC(%q) = false", v)
		}
	}
	for _, v := range []string{"", "02:00:00:00:00", "02-00-00-00-00-00", "FAIL"} {
		if IsMAC(v) {
			t.Errorf("IsMAC(%q) = true", v)
		}
	}
}
