package wpactrl

import (
	"fmt"
	"net"
	"os"
	"path"
	"runtime"
	"sync/atomic"
	"time"
)

// sockSeq makes local socket names unique within the process. Several
// sockets (request and monitor) may target the same remote path.
var sockSeq atomic.Uint64

// localSockPath returns a fresh local socket path in dir for
// talking to remotePath.
func localSockPath(dir, remotePath string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	p := path.Join(dir, fmt.Sprintf("pmf-%d-%d.%s", os.Getpid(), sockSeq.Add(1), path.Base(remotePath)))
	if err := isValidSocketPath(p); err != nil {
		return "", err
	}
	return p, nil
}

// isValidSocketPath returns an error if the given path is invalid for a
// Unix socket.
func isValidSocketPath(p string) error {
	// https://github.com/golang/go/issues/6895
	maxLen := 108
	if runtime.GOOS == "darwin" {
		maxLen = 104
	}
	if len(p) > maxLen {
		return fmt.Errorf("socket path (%q) too long", p)
	}
	return nil
}

// newUnixSocketConn creates a connection with a Unix domain socket at
// remotePath. The localPath is used for the local Unix socket file and
// is typically in a temporary directory.
func newUnixSocketConn(localPath, remotePath string) (*conn, error) {
	laddr, err := net.ResolveUnixAddr("unixgram", localPath)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUnixAddr("unixgram", remotePath)
	if err != nil {
		return nil, err
	}

	c, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, err
	}

	return &conn{
		localSock: laddr.String(),
		UnixConn:  c,
	}, nil
}

// conn is a datagram connection to a control interface.
type conn struct {
	localSock string
	*net.UnixConn
}

func (c *conn) setReadDeadline(timeout time.Duration) error {
	return c.SetReadDeadline(time.Now().Add(timeout))
}

func (c *conn) unsetReadDeadline() error {
	return c.SetReadDeadline(time.Time{})
}

func (c *conn) setWriteDeadline(timeout time.Duration) error {
	return c.SetWriteDeadline(time.Now().Add(timeout))
}

// Close closes the connection and deletes the local
// socket file.
func (c *conn) Close() error {
	cErr := c.UnixConn.Close()
	fErr := os.Remove(c.localSock)

	if cErr != nil {
		return cErr
	}
	return fErr
}
