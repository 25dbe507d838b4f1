// Package monitor puts a radio into monitor mode and injects raw 802.11
// frames through it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/awilliams/hwsim-pmf/internal/frame"
	"github.com/awilliams/hwsim-pmf/internal/syscmd"
)

// ErrShortWrite is returned when the kernel accepts fewer bytes than the
// radiotap header plus frame.
var ErrShortWrite = errors.New("short write on monitor socket")

// DefaultFreq is the channel 1 frequency the hwsim tests run on.
const DefaultFreq = 2412

// sender is the injection socket.
type sender interface {
	io.Writer
	io.Closer
}

// Opt configures Start.
type Opt func(*options)

type options struct {
	logger *log.Logger
	index  func(ifname string) (int, error)
	open   func(ifindex int) (sender, error)
}

// WithLogger sets the logger for interface changes.
func WithLogger(l *log.Logger) Opt {
	return func(o *options) { o.logger = l }
}

// Start switches ifname to monitor mode on freq and opens an injection
// socket bound to it.
func Start(ctx context.Context, r syscmd.Runner, ifname string, freq int, opts ...Opt) (*Socket, error) {
	o := options{
		logger: log.New(io.Discard, "", 0),
		index:  interfaceIndex,
		open:   openSocket,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if freq == 0 {
		freq = DefaultFreq
	}

	if err := setType(ctx, r, ifname, "monitor"); err != nil {
		return nil, err
	}
	// restore returns ifname to managed mode on a failed start.
	restore := func(err error) error {
		if rerr := setType(ctx, r, ifname, "managed"); rerr != nil {
			o.logger.Printf("%s: restore managed mode: %v", ifname, rerr)
		}
		return err
	}
	if err := syscmd.Must(ctx, r, "iw", ifname, "set", "freq", strconv.Itoa(freq)); err != nil {
		return nil, restore(fmt.Errorf("unable to set %s to %d MHz: %w", ifname, freq, err))
	}
	o.logger.Printf("%s: monitor mode on %d MHz", ifname, freq)

	idx, err := o.index(ifname)
	if err != nil {
		return nil, restore(fmt.Errorf("unable to find interface %s: %w", ifname, err))
	}
	s, err := o.open(idx)
	if err != nil {
		return nil, restore(fmt.Errorf("unable to open injection socket on %s: %w", ifname, err))
	}

	return &Socket{
		ifname: ifname,
		index:  idx,
		r:      r,
		s:      s,
		logger: o.logger,
	}, nil
}

func setType(ctx context.Context, r syscmd.Runner, ifname, typ string) error {
	if err := syscmd.Must(ctx, r, "ip", "link", "set", "dev", ifname, "down"); err != nil {
		return fmt.Errorf("failed to bring down %s: %w", ifname, err)
	}
	if err := syscmd.Must(ctx, r, "iw", ifname, "set", "type", typ); err != nil {
		return fmt.Errorf("failed to set %s mode to %s: %w", ifname, typ, err)
	}
	if err := syscmd.Must(ctx, r, "ip", "link", "set", "dev", ifname, "up"); err != nil {
		return fmt.Errorf("failed to bring up %s: %w", ifname, err)
	}
	return nil
}

// Socket injects frames on a monitor interface.
type Socket struct {
	ifname string
	index  int
	r      syscmd.Runner
	logger *log.Logger

	mu     sync.Mutex // Protects following.
	s      sender
	closed bool
}

// Ifname returns the monitor interface name.
func (s *Socket) Ifname() string {
	return s.ifname
}

// Send writes the radiotap header followed by f. f must not carry an FCS.
func (s *Socket) Send(f []byte) error {
	b, err := frame.WithRadioTap(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%s: send on closed socket", s.ifname)
	}
	n, err := s.s.Write(b)
	if err != nil {
		return fmt.Errorf("%s: inject: %w", s.ifname, err)
	}
	if n != len(b) {
		return fmt.Errorf("%s: wrote %d of %d bytes: %w", s.ifname, n, len(b), ErrShortWrite)
	}
	return nil
}

// Stop closes the socket and returns the interface to managed mode.
func (s *Socket) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cerr := s.s.Close()
	s.mu.Unlock()

	if err := setType(ctx, s.r, s.ifname, "managed"); err != nil {
		return err
	}
	s.logger.Printf("%s: back to managed mode", s.ifname)
	return cerr
}
