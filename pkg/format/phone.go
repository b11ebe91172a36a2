package format

import "strings"

// Phone normalizes a contact number for display: non-digits are stripped and
// the digits grouped Korean mobile style, e.g. "01012345678" becomes
// "010-1234-5678". Short inputs keep as many groups as they can fill.
func Phone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	switch {
	case len(d) <= 3:
		return d
	case len(d) <= 7:
		return d[:3] + "-" + d[3:]
	default:
		if len(d) > 11 {
			d = d[:11]
		}
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	}
}
