package utils

import (
	"strconv"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for createdOn fields. Values are
// always UTC with millisecond precision so they sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NowTimestamp is FormatTimestamp(time.Now()).
func NowTimestamp() string {
	return FormatTimestamp(time.Now())
}

// ParseTimestamp accepts TimestampLayout, RFC3339 with or without fractional
// seconds, or a decimal epoch-millisecond string.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// FromMillis converts epoch milliseconds to a timestamp string.
func FromMillis(ms int64) string {
	return FormatTimestamp(time.UnixMilli(ms))
}
