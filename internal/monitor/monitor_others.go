//go:build !linux

package monitor

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("frame injection requires linux")

func interfaceIndex(ifname string) (int, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}

func openSocket(int) (sender, error) {
	return nil, errUnsupported
}
