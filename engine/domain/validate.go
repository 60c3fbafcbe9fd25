package domain

import (
	"regexp"
	"strings"
)

var bvidPattern = regexp.MustCompile(`BV[a-zA-Z0-9]{10}`)

// ParseBVID extracts the public video token from a URL or a bare token. An
// empty input falls back to fallback (typically the B_VID environment value).
func ParseBVID(input, fallback string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		input = strings.TrimSpace(fallback)
	}
	if input == "" {
		return "", NewValidationError("bvid", input, ErrInvalidResource)
	}
	if m := bvidPattern.FindString(input); m != "" {
		return m, nil
	}
	return "", NewValidationError("bvid", input, ErrInvalidResource)
}
