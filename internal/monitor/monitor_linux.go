package monitor

import (
	"errors"
	"fmt"
	"net"

	"github.com/mdlayher/wifi"
	"golang.org/x/sys/unix"
)

// interfaceIndex resolves ifname through nl80211, falling back to the
// generic netlink-free lookup when nl80211 is unavailable.
func interfaceIndex(ifname string) (int, error) {
	return lookupIndex(ifname, nl80211Index, netIndex)
}

// errNotMonitor is returned when nl80211 reports ifname in another mode.
var errNotMonitor = errors.New("not in monitor mode")

// lookupIndex tries nl first. A wrong interface type is returned as is;
// any other nl failure falls back.
func lookupIndex(ifname string, nl, fallback func(string) (int, error)) (int, error) {
	idx, err := nl(ifname)
	switch {
	case err == nil:
		return idx, nil
	case errors.Is(err, errNotMonitor):
		return 0, err
	}
	return fallback(ifname)
}

func netIndex(ifname string) (int, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}

var errNotFound = errors.New("interface not reported by nl80211")

func nl80211Index(ifname string) (int, error) {
	c, err := wifi.New()
	if err != nil {
		return 0, err
	}
	defer c.Close()

	ifis, err := c.Interfaces()
	if err != nil {
		return 0, err
	}
	for _, ifi := range ifis {
		if ifi.Name == ifname {
			if ifi.Type != wifi.InterfaceTypeMonitor {
				return 0, fmt.Errorf("%s is %s: %w", ifname, ifi.Type, errNotMonitor)
			}
			return ifi.Index, nil
		}
	}
	return 0, errNotFound
}

// htons converts a short to network byte order.
func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

type rawSocket struct {
	fd int
}

func openSocket(ifindex int) (sender, error) {
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  ifindex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &rawSocket{fd: fd}, nil
}

func (s *rawSocket) Write(b []byte) (int, error) {
	return unix.Write(s.fd, b)
}

func (s *rawSocket) Close() error {
	return unix.Close(s.fd)
}
