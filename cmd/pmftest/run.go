package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awilliams/hwsim-pmf/internal/config"
	"github.com/awilliams/hwsim-pmf/internal/harness"
	"github.com/awilliams/hwsim-pmf/internal/report"
)

var listOnly bool

var runCmd = &cobra.Command{
	Use:   "run [regex...]",
	Short: "Run the tests matching any regex, or all tests",
	Long: `Run executes the matching tests one at a time. Each result is printed
and, when mqtt.addr is set, published as JSON to

  $mqtt.prefix/$run/result/$test

followed by a summary on $mqtt.prefix/$run/summary. The retained topic
$mqtt.prefix/$run/status reads online while the run is active and offline
once it ends or the broker loses the connection.

The exit status is non-zero when any test fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tests, err := harness.Match(harness.Tests(), args...)
		if err != nil {
			return err
		}
		if len(tests) == 0 {
			return fmt.Errorf("no tests match %q", args)
		}
		if listOnly {
			printTests(cmd.OutOrStdout(), tests)
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sum, err := run(cmd.Context(), cfg, tests, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if sum.Fail > 0 {
			return fmt.Errorf("%d of %d tests failed", sum.Fail, sum.Total())
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("mqtt.addr", "", "MQTT broker address, e.g \"tcp://mqtt.broker:1883\" (optional)")
	f.Duration("timeout", harness.DefaultTimeout, "Timeout of tests that do not set their own")
	f.BoolVar(&listOnly, "list-only", false, "Print the matching tests without running them")
	_ = v.BindPFlag("mqtt.addr", f.Lookup("mqtt.addr"))
	_ = v.BindPFlag("timeout", f.Lookup("timeout"))

	rootCmd.AddCommand(runCmd)
}

// run opens the topology and executes tests. It stops when the tests are
// done, the MQTT connection drops or the context is cancelled.
func run(ctx context.Context, cfg config.Config, tests []*harness.Test, out io.Writer) (report.Summary, error) {
	var sum report.Summary

	// Set all logging to /dev/null unless verbose flag was set.
	logger := log.New(io.Discard, "", 0)
	if cfg.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	}

	if cfg.Run == "" {
		cfg.Run = time.Now().UTC().Format("20060102T150405Z")
	}

	reporters := []report.Reporter{report.NewLogReporter(log.New(out, "", 0))}

	var mq *report.MQTT
	if cfg.MQTT.Addr != "" {
		var err error
		mq, err = report.NewMQTT(ctx, report.MQTTOpts{
			BrokerAddr:  cfg.MQTT.Addr,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Run:         cfg.Run,
			TopicPrefix: cfg.MQTT.Prefix,
		})
		if err != nil {
			return sum, err
		}
		reporters = append(reporters, mq)
		logger.Printf("Publishing results to %s under %q", cfg.MQTT.Addr, mq.Topics().Status())
	}
	defer func() {
		for _, r := range reporters {
			r.Close()
		}
	}()

	env, err := harness.Open(ctx, cfg.Topology, harness.WithLogger(logger))
	if err != nil {
		return sum, fmt.Errorf("unable to open hwsim topology: %w", err)
	}
	defer env.Close()

	runner := harness.NewRunner(env,
		harness.WithReporters(reporters...),
		harness.WithRunLogger(logger),
		harness.WithDefaultTimeout(cfg.Timeout),
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	eg, egCtx := errgroup.WithContext(runCtx)

	// Stop on first MQTT error, e.g. connection lost.
	if mq != nil {
		eg.Go(func() error {
			return mq.OnConnectionLost(egCtx)
		})
	}

	eg.Go(func() error {
		defer stop()
		var err error
		sum, err = runner.Run(egCtx, tests)
		return err
	})

	return sum, eg.Wait()
}
