package kv

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeKey_Roundtrip(t *testing.T) {
	key := TimeKey(1700000000123, "brown-pelican", DefaultTimeKeyWidth)
	assert.Equal(t, "1700000000123-brown-pelican", key)

	millis, suffix, err := ParseTimeKey(key, DefaultTimeKeyWidth)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), millis)
	assert.Equal(t, "brown-pelican", suffix)
}

func TestTimeKey_PadsShortTimestamps(t *testing.T) {
	key := TimeKey(42, "a", DefaultTimeKeyWidth)
	assert.Equal(t, "0000000000042-a", key)
}

func TestTimeKey_OrderMatchesNumericOrder(t *testing.T) {
	keys := []string{
		TimeKey(200, "a", DefaultTimeKeyWidth),
		TimeKey(3, "z", DefaultTimeKeyWidth),
		TimeKey(200, "b", DefaultTimeKeyWidth),
		TimeKey(1700000000123, "a", DefaultTimeKeyWidth),
		TimeKey(40, "m", DefaultTimeKeyWidth),
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	want := []string{
		TimeKey(3, "z", DefaultTimeKeyWidth),
		TimeKey(40, "m", DefaultTimeKeyWidth),
		TimeKey(200, "a", DefaultTimeKeyWidth),
		TimeKey(200, "b", DefaultTimeKeyWidth),
		TimeKey(1700000000123, "a", DefaultTimeKeyWidth),
	}
	assert.Equal(t, want, sorted)
}

func TestTimePrefix_SelectsFromTimestamp(t *testing.T) {
	prefix := TimePrefix(200, DefaultTimeKeyWidth)

	// The prefix sorts before every key carrying the same timestamp and
	// after every key with an earlier one.
	assert.Less(t, prefix, TimeKey(200, "a", DefaultTimeKeyWidth))
	assert.Greater(t, prefix, TimeKey(199, "z", DefaultTimeKeyWidth))
}

func TestTimePrefix_ClampsNegative(t *testing.T) {
	assert.Equal(t, TimePrefix(0, DefaultTimeKeyWidth), TimePrefix(-5000, DefaultTimeKeyWidth))
}

func TestParseTimeKey_Malformed(t *testing.T) {
	cases := []string{
		"",
		"123-a",              // too short
		"0000000000042",      // no separator
		"0000000000042xa",    // wrong separator
		"000000000004a-a",    // non-numeric timestamp
		"00000000000420",     // separator missing entirely
	}
	for _, key := range cases {
		_, _, err := ParseTimeKey(key, DefaultTimeKeyWidth)
		assert.Error(t, err, "key %q", key)
	}
}
