package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// CountryCode is the Kenyan international dialling prefix.
const CountryCode = "254"

// CanonicalLength is the digit count of a canonical 254XXXXXXXXX number.
const CanonicalLength = 12

// ErrInvalidPhoneNumber is returned for input that cannot be reduced to a phone number.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

var nonDigitRegex = regexp.MustCompile(`\D+`)

// Normalize strips formatting and rewrites the number into the 254 form.
// No length check is applied; use Canonical before sending a number upstream.
func Normalize(raw string) (string, error) {
	digits := nonDigitRegex.ReplaceAllString(strings.TrimSpace(raw), "")
	if digits == "" {
		return "", fmt.Errorf("%w: %q contains no digits", ErrInvalidPhoneNumber, raw)
	}
	switch {
	case strings.HasPrefix(digits, "0"):
		return CountryCode + digits[1:], nil
	case strings.HasPrefix(digits, CountryCode):
		return digits, nil
	default:
		return CountryCode + digits, nil
	}
}

// Canonical normalizes raw and asserts the 12-digit 254XXXXXXXXX shape.
func Canonical(raw string) (string, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	if len(normalized) != CanonicalLength {
		return "", fmt.Errorf("%w: %q normalizes to %d digits, want %d", ErrInvalidPhoneNumber, raw, len(normalized), CanonicalLength)
	}
	return normalized, nil
}

// SameSubscriber reports whether two numbers share their last nine digits.
func SameSubscriber(a, b string) bool {
	a = nonDigitRegex.ReplaceAllString(a, "")
	b = nonDigitRegex.ReplaceAllString(b, "")
	const subscriberDigits = CanonicalLength - len(CountryCode)
	if len(a) < subscriberDigits || len(b) < subscriberDigits {
		return false
	}
	return a[len(a)-subscriberDigits:] == b[len(b)-subscriberDigits:]
}
