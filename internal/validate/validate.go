// Package validate decodes and checks the URL submitted to the debugging flow page.
package validate

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"
)

// SchemePrefix is the only scheme accepted for remote scripts.
const SchemePrefix = "https://"

var (
	// ErrDecode reports a malformed percent-encoded input.
	ErrDecode = errors.New("URI malformed")
	// ErrScheme reports a decoded URL that does not start with SchemePrefix.
	ErrScheme = errors.New(`URL must start with "https://"`)
)

// Validate percent-decodes raw and checks the scheme prefix. The decoded string is
// returned unchanged on success; host and path are not inspected.
func Validate(raw string) (string, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(decoded, SchemePrefix) {
		return "", ErrScheme
	}
	return decoded, nil
}

// Decode mirrors decodeURIComponent: "+" stays literal, and a bad escape or a
// decoded byte sequence that is not UTF-8 fails with ErrDecode.
func Decode(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil || !utf8.ValidString(decoded) {
		return "", ErrDecode
	}
	return decoded, nil
}
