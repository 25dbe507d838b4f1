package report

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSummary(t *testing.T) {
	var s Summary
	for _, r := range []Result{
		{Name: "ap_pmf_required", Status: StatusPass},
		{Name: "ocv_sa_query", Status: StatusSkip, Message: "OCV not supported"},
		{Name: "ap_pmf_toggle", Status: StatusFail, Message: "Missing PMF flag"},
		{Name: "ap_pmf_inject_auth", Status: StatusFail},
	} {
		s.Add(r)
	}

	want := Summary{
		Pass:   1,
		Fail:   2,
		Skip:   1,
		Failed: []string{"ap_pmf_inject_auth", "ap_pmf_toggle"},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if got, want := s.String(), "4 tests: 1 passed, 2 failed, 1 skipped"; got != want {
		t.Errorf("got %q; want %q", got, want)
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	lr := NewLogReporter(log.New(&buf, "", 0))
	ctx := context.Background()

	if err := lr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	lr.Report(ctx, Result{Name: "ap_pmf_required", Status: StatusPass, Duration: 1500 * time.Millisecond})
	lr.Report(ctx, Result{Name: "ocv_sa_query", Status: StatusSkip, Message: "OCV not supported"})
	lr.Report(ctx, Result{Name: "ap_pmf_toggle", Status: StatusFail, Message: "Missing PMF flag"})
	lr.Finish(ctx, Summary{Pass: 1, Fail: 1, Skip: 1, Failed: []string{"ap_pmf_toggle"}})

	want := `PASS ap_pmf_required 1.500s
SKIP ocv_sa_query 0.000s: OCV not supported
FAIL ap_pmf_toggle 0.000s: Missing PMF flag
3 tests: 1 passed, 1 failed, 1 skipped
  failed: ap_pmf_toggle
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "pmftest", Run: "Nightly Run #4"}

	for _, tt := range []struct{ got, want string }{
		{topics.Status(), "pmftest/nightlyrun4/status"},
		{topics.Result("ap_pmf_sta_sa_query"), "pmftest/nightlyrun4/result/ap_pmf_sta_sa_query"},
		{topics.Summary(), "pmftest/nightlyrun4/summary"},
	} {
		if tt.got != tt.want {
			t.Errorf("got %q; want %q", tt.got, tt.want)
		}
	}
}
