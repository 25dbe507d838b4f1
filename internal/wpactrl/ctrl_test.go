package wpactrl

import (
	"errors"
	"fmt"
	"path"
	"testing"
	"time"

	"github.com/awilliams/hwsim-pmf/internal/wpactrl/wpactrltest"
)

// startDaemon serves handler on a mock control socket for the
// duration of the test.
func startDaemon(t *testing.T, handler *wpactrltest.Handler) *wpactrltest.Daemon {
	t.Helper()

	d, err := wpactrltest.NewDaemon(path.Join(t.TempDir(), "wlan0"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	go func() {
		if err := d.Serve(handler); err != nil {
			t.Errorf("daemon serve error: %v", err)
		}
	}()
	return d
}

func TestConn_Request(t *testing.T) {
	messages := []struct {
		cmd      string
		expected string
	}{
		{"STATUS", "wpa_state=COMPLETED\n"},
		{"GET_CONFIG", "key_mgmt=WPA-PSK-SHA256\n"},
		{"NOTE hello", "OK"},
	}

	daemonErr := make(chan string, 1)
	var (
		handler wpactrltest.Handler
		pos     int
	)
	handler.OnUndef(func(msg string) string {
		if pos >= len(messages) {
			daemonErr <- "unexpected message"
			return ""
		}
		m := messages[pos]
		pos++

		if msg != m.cmd {
			daemonErr <- fmt.Sprintf("received %q; want %q", msg, m.cmd)
		}
		return m.expected
	})
	d := startDaemon(t, &handler)

	c, err := Dial(t.TempDir(), d.Addr, WithTimeouts(time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for _, m := range messages {
		got, err := c.Request(m.cmd)
		if err != nil {
			t.Fatal(err)
		}
		if got != m.expected {
			t.Errorf("Request(%q): got response %q; want %q", m.cmd, got, m.expected)
		} else {
			t.Logf("Request(%q): got response %q", m.cmd, got)
		}
		select {
		case err := <-daemonErr:
			t.Fatal(err)
		default:
			// pass
		}
	}
}

func TestConn_RequestOK(t *testing.T) {
	handler := wpactrltest.DefaultHandler(map[string]string{
		"SET":     "OK\n",
		"DROP_SA": "FAIL\n",
	})
	d := startDaemon(t, handler)

	c, err := Dial(t.TempDir(), d.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.RequestOK("SET pmf 1"); err != nil {
		t.Fatalf("RequestOK(SET): %v", err)
	}

	err = c.RequestOK("DROP_SA")
	var failed *ErrFailed
	if !errors.As(err, &failed) {
		t.Fatalf("RequestOK(DROP_SA): got %v; want *ErrFailed", err)
	}
	if failed.Reply != "FAIL" {
		t.Errorf("ErrFailed.Reply: got %q; want %q", failed.Reply, "FAIL")
	}
	if !IsFail(failed.Reply) {
		t.Errorf("IsFail(%q) = false", failed.Reply)
	}
}

func TestConn_unknownCommand(t *testing.T) {
	d := startDaemon(t, &wpactrltest.Handler{})

	c, err := Dial(t.TempDir(), d.Addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Request("BOGUS")
	var unknown ErrUnknownCmd
	if !errors.As(err, &unknown) {
		t.Fatalf("got error %v; want ErrUnknownCmd", err)
	}
	if string(unknown) != "BOGUS" {
		t.Errorf("got %q; want %q", string(unknown), "BOGUS")
	}
}

func TestDial_noPong(t *testing.T) {
	var handler wpactrltest.Handler
	handler.OnPing(func() bool { return false })
	d := startDaemon(t, &handler)

	c, err := Dial(t.TempDir(), d.Addr, WithTimeouts(100*time.Millisecond, 100*time.Millisecond))
	if err == nil {
		c.Close()
		t.Fatal("expected error when PING is not answered")
	}
	t.Logf("Dial error (expected): %v", err)
}

func TestDial_noSocket(t *testing.T) {
	if _, err := Dial(t.TempDir(), path.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing socket")
	}
}

func TestLocalSockPath_unique(t *testing.T) {
	dir := t.TempDir()
	a, err := localSockPath(dir, "/var/run/hostapd/wlan3")
	if err != nil {
		t.Fatal(err)
	}
	b, err := localSockPath(dir, "/var/run/hostapd/wlan3")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("localSockPath returned %q twice", a)
	}
}
