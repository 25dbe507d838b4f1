// Command pmftest runs the PMF (802.11w) hwsim test catalog against live
// hostapd and wpa_supplicant processes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/awilliams/hwsim-pmf/internal/config"

	// Registers the catalog.
	_ "github.com/awilliams/hwsim-pmf/internal/pmf"
)

const appName = "pmftest"

var (
	v          = config.New()
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "PMF (802.11w) integration tests for hostapd and wpa_supplicant",
	Long: `pmftest drives hostapd and wpa_supplicant on mac80211_hwsim radios
through their control interfaces and checks management frame protection:
PMF negotiation, SA Query, association comeback, OCV, beacon protection
and injected unprotected frames.

Settings are read from pmftest.yaml (current directory or /etc/pmftest),
PMFTEST_* environment variables and flags, later sources winning.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default pmftest.yaml)")
	pf.BoolP("verbose", "v", false, "Verbose logging")
	_ = v.BindPFlag("verbose", pf.Lookup("verbose"))
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when a terminating signal is received.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		log.Printf("Received signal %q, exiting...", <-sigs)
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the merged settings of the config file, the
// environment and the bound flags.
func loadConfig() (config.Config, error) {
	return config.Load(v, configPath)
}
