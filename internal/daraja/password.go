package daraja

import (
	"encoding/base64"
	"time"
)

// TimestampLayout is the YYYYMMDDHHmmss form used in requests and callbacks.
const TimestampLayout = "20060102150405"

// EastAfricaTime is the zone the network stamps requests and callbacks in.
var EastAfricaTime = time.FixedZone("EAT", 3*60*60)

// Timestamp formats t the way push requests expect it.
func Timestamp(t time.Time) string {
	return t.In(EastAfricaTime).Format(TimestampLayout)
}

// ParseTimestamp reads a network timestamp. ok is false for empty or
// malformed input.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, s, EastAfricaTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Password derives the push-request password: base64(shortCode+passkey+timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
