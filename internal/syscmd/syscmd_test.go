package syscmd

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExec_Run(t *testing.T) {
	e := Exec{Timeout: 5 * time.Second}
	if !e.HasCommand("sh") {
		t.Skip("sh not available")
	}

	out, err := e.Run(context.Background(), "sh", "-c", "echo MFP: yes")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != "MFP: yes" {
		t.Fatalf("got %q; want %q", got, "MFP: yes")
	}

	_, err = e.Run(context.Background(), "sh", "-c", "echo nope >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error %q does not include output", err)
	}
}

func TestExec_HasCommand(t *testing.T) {
	if (Exec{}).HasCommand("definitely-not-a-command-pmftest") {
		t.Fatal("HasCommand reported a missing command as present")
	}
}
