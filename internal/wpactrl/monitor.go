package wpactrl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrEventTimeout is returned by WaitEvent when no matching event
// arrives in time.
var ErrEventTimeout = errors.New("timeout waiting for event")

// ErrMonitorClosed is returned by WaitEvent after Close.
var ErrMonitorClosed = errors.New("monitor closed")

// Attach opens a dedicated socket to remotePath and subscribes it to
// unsolicited events. Events are queued until consumed by WaitEvent or
// discarded by Dump.
func Attach(localDir, remotePath string, opts ...Opt) (*Monitor, error) {
	o := buildOptions(opts)

	lpath, err := localSockPath(localDir, remotePath)
	if err != nil {
		return nil, err
	}

	cn, err := newUnixSocketConn(lpath, remotePath)
	if err != nil {
		return nil, fmt.Errorf("unable to create monitor socket for %q: %w", remotePath, err)
	}

	ctrl, err := newCtrl(cn, o.readTimeout, o.writeTimeout)
	if err != nil {
		cn.Close()
		return nil, err
	}
	if err := ctrl.attach(); err != nil {
		cn.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		remote: remotePath,
		conn:   cn,
		cancel: cancel,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	go func() {
		defer close(m.done)
		err := ctrl.receive(ctx, m.push)
		if err == nil {
			err = ErrMonitorClosed
		}
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		m.wake()
	}()

	return m, nil
}

// Monitor is a control interface socket attached for events.
type Monitor struct {
	remote string
	conn   *conn
	cancel context.CancelFunc
	done   chan struct{} // Closed when the receive loop exits.
	notify chan struct{} // Signaled on every push.

	mu    sync.Mutex // Protects following.
	queue []Event
	err   error
}

func (m *Monitor) push(e Event) error {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *Monitor) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// WaitEvent returns the first queued or future event containing any of
// substrs. Events that do not match are consumed and dropped, matching
// how the hwsim helpers behave. A timeout of zero waits until ctx is done.
func (m *Monitor) WaitEvent(ctx context.Context, timeout time.Duration, substrs ...string) (Event, error) {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}

	for {
		m.mu.Lock()
		for len(m.queue) > 0 {
			e := m.queue[0]
			m.queue = m.queue[1:]
			if e.Contains(substrs...) {
				m.mu.Unlock()
				return e, nil
			}
		}
		err := m.err
		m.mu.Unlock()

		if err != nil {
			return Event{}, err
		}

		select {
		case <-m.notify:
		case <-expire:
			return Event{}, fmt.Errorf("%v on %s: %w", substrs, m.remote, ErrEventTimeout)
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Dump discards and returns every queued event.
func (m *Monitor) Dump() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// Close detaches and closes the monitor socket.
func (m *Monitor) Close() error {
	m.cancel()
	select {
	case <-m.done:
	case <-time.After(2 * DefaultWriteTimeout):
	}
	return m.conn.Close()
}
