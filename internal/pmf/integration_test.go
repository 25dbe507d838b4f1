//go:build integration

package pmf

import (
	"context"
	"flag"
	"os"
	"os/exec"
	"testing"

	"github.com/awilliams/hwsim-pmf/internal/config"
	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/report"
)

var (
	configPath = flag.String("pmf.config", "", "pmftest config file (optional)")
	runPattern = flag.String("pmf.run", "", "Regex of the catalog tests to run (default all)")
)

func skipUnlessHWSim(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("skipping: test requires root privileges")
	}
	for _, cmd := range []string{"hostapd", "wpa_supplicant", "iw", "wlantest_cli"} {
		if _, err := exec.LookPath(cmd); err != nil {
			t.Skipf("skipping: required command %q not found", cmd)
		}
	}
}

// collector records results for replay as subtests.
type collector struct {
	results []report.Result
}

func (*collector) Start(context.Context) error { return nil }

func (c *collector) Report(_ context.Context, r report.Result) error {
	c.results = append(c.results, r)
	return nil
}

func (*collector) Finish(context.Context, report.Summary) error { return nil }
func (*collector) Close() error                                 { return nil }

func TestCatalog(t *testing.T) {
	skipUnlessHWSim(t)

	cfg, err := config.Load(config.New(), *configPath)
	if err != nil {
		t.Fatal(err)
	}
	var patterns []string
	if *runPattern != "" {
		patterns = append(patterns, *runPattern)
	}
	tests, err := harness.Match(harness.Tests(), patterns...)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	env, err := harness.Open(ctx, cfg.Topology)
	if err != nil {
		t.Fatalf("unable to open hwsim topology: %v", err)
	}
	t.Cleanup(func() { env.Close() })

	var c collector
	sum, err := harness.NewRunner(env,
		harness.WithReporters(&c),
		harness.WithDefaultTimeout(cfg.Timeout),
	).Run(ctx, tests)
	if err != nil {
		t.Fatal(err)
	}
	t.Log(sum)

	for _, r := range c.results {
		r := r
		t.Run(r.Name, func(t *testing.T) {
			switch r.Status {
			case report.StatusPass:
			case report.StatusSkip:
				t.Skip(r.Message)
			default:
				t.Errorf("%s (%v)", r.Message, r.Duration)
			}
		})
	}
}
