// Package wpactrltest provides a mock hostapd / wpa_supplicant control
// interface for tests.
package wpactrltest

import (
	"fmt"
	"net"
	"sync"
	"testing"
)

// NewDaemon creates a mock control daemon listening on sockPath.
func NewDaemon(sockPath string) (*Daemon, error) {
	sockAddr, err := net.ResolveUnixAddr("unixgram", sockPath)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", sockAddr)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		Addr:     sockAddr.String(),
		conn:     conn,
		buf:      make([]byte, 4096),
		attached: make(map[string]net.Addr),
	}, nil
}

// Start creates a daemon at sockPath and serves h until the test ends.
func Start(t testing.TB, sockPath string, h *Handler) *Daemon {
	t.Helper()

	d, err := NewDaemon(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	go func() {
		if err := d.Serve(h); err != nil {
			t.Errorf("daemon %s serve error: %v", sockPath, err)
		}
	}()
	return d
}

// Daemon mocks a control interface socket.
type Daemon struct {
	Addr string
	conn *net.UnixConn
	buf  []byte

	mu       sync.Mutex // Protects following.
	closed   bool
	attached map[string]net.Addr
}

// Close the socket.
func (d *Daemon) Close() error {
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	d.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return d.conn.Close()
}

// WriteTo writes the message to the given address.
func (d *Daemon) WriteTo(msg string, addr net.Addr) error {
	if _, err := d.conn.WriteTo([]byte(msg), addr); err != nil {
		return fmt.Errorf("WriteTo(%q) err: %w", msg, err)
	}
	return nil
}

// ReadFrom reads a message and returns it as a string along with the
// remote address. Must not be used after calling Serve.
func (d *Daemon) ReadFrom() (string, net.Addr, error) {
	n, raddr, err := d.conn.ReadFrom(d.buf)
	if err != nil {
		return "", nil, err
	}
	return string(d.buf[:n]), raddr, nil
}

// Emit sends an unsolicited event to every attached socket.
func (d *Daemon) Emit(msg string) error {
	d.mu.Lock()
	addrs := make([]net.Addr, 0, len(d.attached))
	for _, a := range d.attached {
		addrs = append(addrs, a)
	}
	d.mu.Unlock()

	for _, a := range addrs {
		if err := d.WriteTo(msg, a); err != nil {
			return err
		}
	}
	return nil
}

// Attached returns the number of attached sockets.
func (d *Daemon) Attached() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attached)
}

// Serve uses the handler to serve requests. This method
// blocks until an error is encountered or the daemon is closed.
func (d *Daemon) Serve(handler *Handler) error {
	for {
		msg, raddr, err := d.ReadFrom()
		if err != nil {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.closed {
				return nil
			}
			return err
		}

		handler.handleMessage(msg)

		var resp string
		switch msg {
		case "PING":
			if !handler.handlePing() {
				continue
			}
			resp = "PONG"

		case "ATTACH":
			d.mu.Lock()
			d.attached[raddr.String()] = raddr
			d.mu.Unlock()
			handler.handleAttach()
			resp = "OK"

		case "DETACH":
			d.mu.Lock()
			delete(d.attached, raddr.String())
			d.mu.Unlock()
			handler.handleDetach()
			// Ignore this error, since the other side of
			// the connection may already have closed.
			_ = d.WriteTo("OK", raddr)
			continue

		default:
			var ok bool
			if resp, ok = handler.handleCommand(msg); ok {
				break
			}
			if resp, ok = handler.handleUndef(msg); ok {
				break
			}
			resp = "UNKNOWN COMMAND"
		}

		if err := d.WriteTo(resp, raddr); err != nil {
			return err
		}
	}
}
