package wpactrl

import (
	"regexp"
)

var macRegexp = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}([0-9A-Fa-f]{2})$`)

// BroadcastAddr is the all-ones destination address.
const BroadcastAddr = "ff:ff:ff:ff:ff:ff"

// IsMAC returns false if v is not a valid MAC address
// in XX:XX:XX:XX:XX:XX format.
func IsMAC(v string) bool {
	return macRegexp.MatchString(v)
}
