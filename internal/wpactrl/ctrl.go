// Package wpactrl is a client for the hostapd and wpa_supplicant control
// interface: request/response sockets plus attached event monitors.
package wpactrl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Control interface command and response strings shared by hostapd
// and wpa_supplicant.
const (
	cmdPing        = "PING"
	respPong       = "PONG"
	cmdAttach      = "ATTACH"
	cmdDetach      = "DETACH"
	respOK         = "OK"
	respFail       = "FAIL"
	unknownCommand = "UNKNOWN COMMAND"
)

// Default socket timeouts. ENABLE and INTERFACE_ADD can take seconds
// to reply.
const (
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = time.Second
)

// bufSize is the largest reply the control interface sends in one
// datagram.
const bufSize = 4096

// ErrTerminating is returned by a Monitor when the control
// interface announces CTRL-EVENT-TERMINATING.
var ErrTerminating = errors.New("control interface is exiting")

// ErrUnknownCmd is returned when the socket returns an unknownCommand
// response.
type ErrUnknownCmd string

func (e ErrUnknownCmd) Error() string {
	return fmt.Sprintf("sent command %q, received unknown command response", string(e))
}

// ErrFailed is returned by RequestOK when the reply is anything other
// than OK.
type ErrFailed struct {
	Cmd   string
	Reply string
}

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("command %q failed: %q", e.Cmd, e.Reply)
}

// newCtrl returns a new ctrl using the given connection.
func newCtrl(cn *conn, rTimeout, wTimeout time.Duration) (*ctrl, error) {
	c := &ctrl{
		readTimeout:  rTimeout,
		writeTimeout: wTimeout,
		conn:         cn,
		buf:          make([]byte, bufSize),
	}
	if err := c.ping(); err != nil {
		return nil, fmt.Errorf("ping error: %w", err)
	}

	return c, nil
}

// ctrl manages a single control interface socket.
type ctrl struct {
	readTimeout, writeTimeout time.Duration

	mu   sync.Mutex // Protects following.
	conn *conn
	buf  []byte
}

// cmd sends the given command and waits for the response. On success, the
// response's data is given to the resp function. Any error returned from
// the resp function is returned by this method. This method is threadsafe.
// The resp function should not retain p.
func (c *ctrl) cmd(cmd string, resp func(p []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.setWriteDeadline(c.writeTimeout); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write error from %q command: %w", cmd, err)
	}

	if c.readTimeout > 0 {
		if err := c.conn.setReadDeadline(c.readTimeout); err != nil {
			return err
		}
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		return fmt.Errorf("read error from %q command: %w", cmd, err)
	}

	if bytes.HasPrefix(c.buf[:n], []byte(unknownCommand)) {
		return ErrUnknownCmd(cmd)
	}

	return resp(c.buf[:n])
}

// ping tests whether the control interface is responding
// to requests.
func (c *ctrl) ping() error {
	return c.cmd(cmdPing, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respPong {
			return fmt.Errorf("unexpected response to %s: %q", cmdPing, s)
		}
		return nil
	})
}

// attach requests that the control interface send unsolicited
// event messages. On success, receive must be used to read them.
func (c *ctrl) attach() error {
	return c.cmd(cmdAttach, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respOK {
			return fmt.Errorf("unexpected response to %s: %q", cmdAttach, s)
		}
		return nil
	})
}

// receive reads unsolicited events from an attached socket and passes
// them to cb. It blocks until the context is canceled or an error occurs.
// While this method is blocking, no other ctrl methods can be used.
func (c *ctrl) receive(ctx context.Context, cb func(Event) error) error {
	// Socket is now "attached". Command responses and unsolicited
	// messages would be mixed, so the mutex is held for the duration
	// of the blocking receive.
	c.mu.Lock()
	defer c.mu.Unlock()

	detach, detached := c.detacher()
	defer detach()
	go func() {
		select {
		case <-ctx.Done():
			detach()
		case <-detached:
		}
	}()

	// Remove any read timeouts from the connection, otherwise
	// it could trigger while waiting for events.
	if err := c.conn.unsetReadDeadline(); err != nil {
		return err
	}

	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			select {
			case <-detached:
				// Read deadline after DETACH without a reply.
				return nil
			default:
				return err
			}
		}

		msg := strings.TrimSpace(string(c.buf[:n]))

		// Check if this is a DETACH response (OK).
		if msg == respOK {
			select {
			case <-detached:
				return nil
			default:
				return fmt.Errorf("unexpected message while attached: %q", msg)
			}
		}
		if msg == "" {
			continue
		}

		event := parseEvent(msg)
		if event.Name == eventTerminating {
			return ErrTerminating
		}

		if err = cb(event); err != nil {
			return err
		}
	}
}

// detacher returns a function that, when called, sends a detach
// command to stop receiving unsolicited events. The function is threadsafe and
// can be called multiple times. Only the first call will perform the detach.
// Once the function has been called, the returned channel will unblock.
func (c *ctrl) detacher() (func(), <-chan struct{}) {
	var (
		mu       sync.Mutex            // Protects following.
		detached bool                  // True after detach command has been sent.
		done     = make(chan struct{}) // Closed after detached is executed.
	)

	f := func() {
		mu.Lock()
		defer mu.Unlock()

		if detached {
			return
		}
		detached = true

		defer close(done)

		// Ignore errors from here till end,
		// since there's no recourse.

		c.conn.setWriteDeadline(c.writeTimeout)
		c.conn.Write([]byte(cmdDetach))

		// Response will be handled by the receive loop.
		c.conn.setReadDeadline(c.readTimeout)
	}

	return f, done
}

// Opt configures a Conn or Monitor.
type Opt func(*options)

type options struct {
	readTimeout, writeTimeout time.Duration
}

// WithTimeouts overrides the socket read and write timeouts.
func WithTimeouts(read, write time.Duration) Opt {
	return func(o *options) {
		o.readTimeout = read
		o.writeTimeout = write
	}
}

func buildOptions(opts []Opt) options {
	o := options{
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to the control interface socket at remotePath. The local
// end of the socket is created in localDir, which defaults to the system
// temporary directory. The remote must answer PING.
func Dial(localDir, remotePath string, opts ...Opt) (*Conn, error) {
	o := buildOptions(opts)

	lpath, err := localSockPath(localDir, remotePath)
	if err != nil {
		return nil, err
	}

	cn, err := newUnixSocketConn(lpath, remotePath)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %q: %w", remotePath, err)
	}

	ctrl, err := newCtrl(cn, o.readTimeout, o.writeTimeout)
	if err != nil {
		cn.Close()
		return nil, fmt.Errorf("control interface %q: %w", remotePath, err)
	}

	return &Conn{
		remote: remotePath,
		conn:   cn,
		ctrl:   ctrl,
	}, nil
}

// Conn is a request/response connection to a hostapd or wpa_supplicant
// control interface.
type Conn struct {
	remote string
	conn   *conn
	ctrl   *ctrl
}

// Path returns the remote socket path.
func (c *Conn) Path() string {
	return c.remote
}

// Close closes the connection to the control interface. The Conn
// is no longer usable after closing.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Ping checks the control interface still answers.
func (c *Conn) Ping() error {
	return c.ctrl.ping()
}

// Request sends cmd and returns the raw reply.
func (c *Conn) Request(cmd string) (string, error) {
	var reply string
	err := c.ctrl.cmd(cmd, func(p []byte) error {
		reply = string(p)
		return nil
	})
	return reply, err
}

// RequestOK sends cmd and returns an *ErrFailed unless the reply is OK.
func (c *Conn) RequestOK(cmd string) error {
	reply, err := c.Request(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) != respOK {
		return &ErrFailed{Cmd: cmd, Reply: strings.TrimSpace(reply)}
	}
	return nil
}

// IsFail reports whether a reply is the FAIL marker.
func IsFail(reply string) bool {
	return strings.HasPrefix(strings.TrimSpace(reply), respFail)
}
