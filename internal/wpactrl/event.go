package wpactrl

import (
	"strconv"
	"strings"
)

// Event names used by hostapd and wpa_supplicant. Source for these, and
// others, is in the wpa_supplicant / hostapd documentation and source
// code: https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html.
const (
	eventTerminating = "CTRL-EVENT-TERMINATING"
)

// Event is an unsolicited message received from a control interface.
type Event struct {
	// Level is the priority prefix, e.g. 3 for "<3>". It is -1 when
	// the message has no prefix.
	Level int
	// Name is the first token of the message, e.g. "AP-STA-CONNECTED".
	Name string
	// Text is the message without its priority prefix.
	Text string
	raw  string
}

// parseEvent parses the received msg into an Event.
func parseEvent(msg string) Event {
	e := Event{Level: -1, raw: msg, Text: msg}

	// Events may be prefixed with a priority level, e.g. '<3>'.
	// Strip this prefix if present.
	if len(msg) >= 3 && msg[0] == '<' {
		if end := strings.IndexByte(msg, '>'); end > 1 {
			if lvl, err := strconv.Atoi(msg[1:end]); err == nil {
				e.Level = lvl
				e.Text = msg[end+1:]
			}
		}
	}

	e.Name, _, _ = strings.Cut(e.Text, " ")
	return e
}

// Raw returns the event as sent by the daemon.
func (e Event) Raw() string {
	return e.raw
}

// String returns the event text without its priority prefix.
func (e Event) String() string {
	return e.Text
}

// Contains reports whether the event text contains any of substrs.
func (e Event) Contains(substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(e.Text, s) {
			return true
		}
	}
	return false
}

// Arg returns the i'th space separated token of the event, with the
// event name at index 0. An empty string is returned when out of range.
func (e Event) Arg(i int) string {
	parts := strings.Split(e.Text, " ")
	if i < 0 || i >= len(parts) {
		return ""
	}
	return parts[i]
}

// Field returns the value of a key=value token, e.g. "reason=7".
func (e Event) Field(key string) (string, bool) {
	prefix := key + "="
	for _, tok := range strings.Fields(e.Text) {
		if strings.HasPrefix(tok, prefix) {
			return strings.TrimPrefix(tok, prefix), true
		}
	}
	return "", false
}

// LocallyGenerated reports whether a disconnection event carries
// locally_generated=1.
func (e Event) LocallyGenerated() bool {
	v, _ := e.Field("locally_generated")
	return v == "1"
}
