package harness

import (
	"errors"
	"strings"

	"github.com/awilliams/hwsim-pmf/internal/hostapd"
	"github.com/awilliams/hwsim-pmf/internal/supplicant"
)

// SkipWithoutTKIP skips the test when dev was built without TKIP.
func (s *State) SkipWithoutTKIP(dev *supplicant.Station) {
	res, err := dev.GetCapability("pairwise")
	if err != nil || !strings.Contains(res, "TKIP") {
		s.Skipf("Cipher TKIP not supported")
	}
}

// SkipOnParamError skips the test with "<feature> not supported" when
// err is hostapd rejecting field. Any other error, including a rejected
// SET of another field, fails the test.
func (s *State) SkipOnParamError(err error, field, feature string) {
	if err == nil {
		return
	}
	var pe *hostapd.ParamError
	if errors.As(err, &pe) && pe.Field == field {
		s.Skipf("%s not supported", feature)
	}
	s.Fatal(err)
}
