package wpactrl

import (
	"strconv"
	"strings"
)

// DeauthOpt adds an optional argument to a DEAUTHENTICATE or DISASSOCIATE
// command. Both hostapd and wpa_supplicant in AP mode accept them.
type DeauthOpt func(*deauthArgs)

type deauthArgs struct {
	reason    int
	protected *bool
	noTx      bool
}

// Reason sets the reason code carried in the frame.
func Reason(code int) DeauthOpt {
	return func(a *deauthArgs) { a.reason = code }
}

// Protected selects whether the frame is sent protected (test=1) or
// unprotected (test=0), bypassing the normal PMF choice.
func Protected(p bool) DeauthOpt {
	return func(a *deauthArgs) { a.protected = &p }
}

// NoTx drops the station locally without sending a frame (tx=0).
func NoTx() DeauthOpt {
	return func(a *deauthArgs) { a.noTx = true }
}

// FormatDeauth builds "<verb> <addr> [reason=N] [test=0|1] [tx=0]".
func FormatDeauth(verb, addr string, opts ...DeauthOpt) string {
	var a deauthArgs
	for _, opt := range opts {
		opt(&a)
	}

	parts := []string{verb, addr}
	if a.reason != 0 {
		parts = append(parts, "reason="+strconv.Itoa(a.reason))
	}
	if a.protected != nil {
		if *a.protected {
			parts = append(parts, "test=1")
		} else {
			parts = append(parts, "test=0")
		}
	}
	if a.noTx {
		parts = append(parts, "tx=0")
	}
	return strings.Join(parts, " ")
}
