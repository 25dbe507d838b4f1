// This program starts a mock hostapd control interface listening on a
// Unix socket. Events are sent to attached clients via prompts on STDIN.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl/wpactrltest"
)

var args = struct {
	sockPath string
	staAddr  string
	ssid     string
	bssid    string
	freq     int
	pmf      string
	stations bool
}{}

var rootCmd = &cobra.Command{
	Use:          "ctrl-mock",
	Short:        "Mock hostapd control interface for local development",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&args.sockPath, "sockPath", "hostapd.sock", "Path to mock control interface Unix socket")
	f.StringVar(&args.staAddr, "sta", "02:00:00:00:00:00", "Station MAC address used in events")
	f.StringVar(&args.ssid, "ssid", "test-pmf-required", "Mock SSID")
	f.StringVar(&args.bssid, "bssid", "02:00:00:00:03:00", "Mock BSSID")
	f.IntVar(&args.freq, "freq", 2412, "Mock frequency (MHz)")
	f.StringVar(&args.pmf, "ieee80211w", "2", "Mock ieee80211w value returned by GET_CONFIG")
	f.BoolVar(&args.stations, "connected", false, "If true, then the station is initially associated")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// script maps a prompt to the event it sends.
type script struct {
	key, desc string
	event     func() string
}

func scripts() []script {
	sta := args.staAddr
	return []script{
		{"1", "AP-STA-CONNECTED", func() string { return "<3>AP-STA-CONNECTED " + sta }},
		{"2", "EAPOL-4WAY-HS-COMPLETED", func() string { return "<3>EAPOL-4WAY-HS-COMPLETED " + sta }},
		{"3", "AP-STA-DISCONNECTED", func() string { return "<3>AP-STA-DISCONNECTED " + sta }},
		{"4", "MGMT-TX-STATUS (deauth)", func() string {
			return "<3>MGMT-TX-STATUS type=0 stype=12 ok=1 buf=c000"
		}},
		{"5", "CTRL-EVENT-TERMINATING", func() string { return "<3>CTRL-EVENT-TERMINATING" }},
	}
}

func handler(connected bool) *wpactrltest.Handler {
	numSta := "0"
	if connected {
		numSta = "1"
	}
	h := wpactrltest.DefaultHandler(map[string]string{
		"STATUS": wpactrltest.EncodeKV(map[string]string{
			"state":      "ENABLED",
			"freq":       fmt.Sprint(args.freq),
			"channel":    fmt.Sprint((args.freq - 2407) / 5),
			"bssid[0]":   args.bssid,
			"ssid[0]":    args.ssid,
			"num_sta[0]": numSta,
		}),
		"GET_CONFIG": wpactrltest.EncodeKV(map[string]string{
			"bssid":      args.bssid,
			"ssid":       args.ssid,
			"wpa":        "2",
			"key_mgmt":   "WPA-PSK-SHA256",
			"ieee80211w": args.pmf,
		}),
		"SET":    "OK",
		"ENABLE": "OK",
	})
	h.Handle("STA", func(addr string) string {
		if !connected || !strings.EqualFold(addr, args.staAddr) {
			return "FAIL"
		}
		return args.staAddr + "\n" + wpactrltest.EncodeKV(map[string]string{
			"flags": "[AUTH][ASSOC][AUTHORIZED][MFP]",
		})
	})
	h.OnUndef(func(msg string) string {
		log.Printf("< Unhandled: %q", msg)
		return "FAIL"
	})
	return h
}

func run(ctx context.Context) error {
	d, err := wpactrltest.NewDaemon(args.sockPath)
	if err != nil {
		return err
	}
	defer func() {
		d.Close()
		os.Remove(d.Addr)
	}()

	h := handler(args.stations)
	attached := make(chan struct{}, 1)
	detached := make(chan struct{}, 1)
	h.OnAttach(func() {
		log.Println("client attached")
		select {
		case attached <- struct{}{}:
		default:
		}
	})
	h.OnDetach(func() {
		select {
		case detached <- struct{}{}:
		default:
		}
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.Serve(h) }()

	var prompt strings.Builder
	prompt.WriteString("\nEnter the following number for the corresponding event:\n")
	for _, s := range scripts() {
		fmt.Fprintf(&prompt, "%s:\t%s\n", s.key, s.desc)
	}
	prompt.WriteString("q:\tExit\n\nCommand: ")

	fmt.Printf("Created mock control interface at: %s\nWaiting for a client to attach...\n", d.Addr)
	select {
	case <-attached:
		fmt.Print(prompt.String())
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return nil
	}

	lines := readLines(ctx)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "q" || line == "Q" || line == "exit" {
				return nil
			}
			s, found := lookup(line)
			if !found {
				log.Printf("Unrecognized number %q\n", line)
				break
			}
			ev := s.event()
			if err := d.Emit(ev); err != nil {
				return err
			}
			log.Printf("> Sent: %q\n", ev)
			if strings.Contains(ev, "CTRL-EVENT-TERMINATING") {
				time.Sleep(time.Second)
				return nil
			}
			fmt.Print(prompt.String())

		case err := <-serveErr:
			return err

		case <-ctx.Done():
			return nil

		case <-detached:
			log.Println("client detached. Exiting...")
			return nil
		}
	}
}

func lookup(key string) (script, bool) {
	for _, s := range scripts() {
		if s.key == key {
			return s, true
		}
	}
	return script{}, false
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}
