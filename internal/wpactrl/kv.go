package wpactrl

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseKV parses a key=value reply such as STATUS, GET_CONFIG or
// STATUS-DRIVER. More info:
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html#ctrl_iface_STATUS
func ParseKV(p []byte) (map[string]string, error) {
	kv := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid response line %q", line)
		}
		kv[key] = val
	}

	return kv, scanner.Err()
}

// Station holds the reply to a hostapd "STA <addr>" command.
type Station struct {
	MAC    string
	Fields map[string]string
}

// ParseStation parses a station reply. The first line is the station
// address, the remaining lines are key=value pairs.
func ParseStation(p []byte) (Station, error) {
	var s Station

	mac, rest, _ := bytes.Cut(p, []byte("\n"))
	s.MAC = strings.TrimSpace(string(mac))
	if !IsMAC(s.MAC) {
		return s, fmt.Errorf("invalid station MAC %q", s.MAC)
	}

	kv, err := ParseKV(rest)
	if err != nil {
		return s, err
	}
	s.Fields = kv
	return s, nil
}

// HasFlag reports whether the station's flags field contains flag,
// e.g. "MFP" for "[AUTH][ASSOC][AUTHORIZED][MFP]".
func (s Station) HasFlag(flag string) bool {
	return strings.Contains(s.Fields["flags"], "["+flag+"]")
}

// DecodeSSID converts the hostap encoding of the SSID into a string,
// respecting the special escape sequences for hex and other characters.
// See printf_encode for more encoding info:
// https://w1.fi/cgit/hostap/tree/src/utils/common.c?id=b20991da6936a1baae9f2239ee127610a6f5335d#n477
func DecodeSSID(v []byte) (string, error) {
	r := bytes.NewReader(v)
	var s strings.Builder
	s.Grow(len(v))

	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if c != '\\' {
			s.WriteByte(c)
			continue
		}

		c, err = r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("dangling escape: %w", err)
		}

		switch c {
		case '"':
			s.WriteRune('"')
		case '\\':
			s.WriteRune('\\')
		case 'e':
			s.WriteRune('\033')
		case 'n':
			s.WriteRune('\n')
		case 'r':
			s.WriteRune('\r')
		case 't':
			s.WriteRune('\t')
		case 'x': // Hex
			if _, err = io.Copy(&s, hex.NewDecoder(io.LimitReader(r, 2))); err != nil {
				return "", err
			}
		default:
			s.WriteByte(c)
		}
	}

	return s.String(), nil
}
