package kv

import (
	"fmt"
	"strconv"
)

// DefaultTimeKeyWidth zero-pads millisecond timestamps to 13 digits, which
// keeps every key the same length (and therefore bytewise sortable) through
// the year 2286.
const DefaultTimeKeyWidth = 13

// TimeKey encodes an epoch-milliseconds timestamp and a suffix as
// pad(millis, width) || "-" || suffix. Lexicographic order over these keys
// equals numeric order on the timestamp, with ties broken by the suffix.
func TimeKey(millis int64, suffix string, width int) string {
	return fmt.Sprintf("%0*d-%s", width, millis, suffix)
}

// TimePrefix returns the scan start key selecting every TimeKey whose
// timestamp is >= millis. Negative timestamps clamp to zero so windows
// reaching before the epoch still scan from the first key.
func TimePrefix(millis int64, width int) string {
	if millis < 0 {
		millis = 0
	}
	return fmt.Sprintf("%0*d", width, millis)
}

// ParseTimeKey splits a TimeKey back into timestamp and suffix.
func ParseTimeKey(key string, width int) (millis int64, suffix string, err error) {
	if len(key) <= width || key[width] != '-' {
		return 0, "", fmt.Errorf("malformed time key %q", key)
	}
	millis, err = strconv.ParseInt(key[:width], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed time key %q: %w", key, err)
	}
	return millis, key[width+1:], nil
}
