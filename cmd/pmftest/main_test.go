package main

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestList(t *testing.T) {
	out := execute(t, "list", "^ocv_")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines; want 4:\n%s", len(lines), out)
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "ocv_") {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestRunListOnly(t *testing.T) {
	t.Cleanup(func() { listOnly = false })
	out := execute(t, "run", "--list-only", "^ap_pmf_required$")
	if !strings.HasPrefix(out, "ap_pmf_required ") {
		t.Errorf("got %q", out)
	}
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	if want := appName + " v" + version + "\n"; out != want {
		t.Errorf("got %q; want %q", out, want)
	}
}
