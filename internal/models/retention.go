package models

import "time"

// DefaultRetentionDays applies when neither call, room nor global config set one.
const DefaultRetentionDays = 30

// RetentionConfig bounds how far back a room's messages are synchronized.
type RetentionConfig struct {
	Indefinite bool `yaml:"indefinitely" json:"indefinitely"`
	Days       int  `yaml:"days" json:"days"`
}

// ResolveRetention picks the effective retention: explicit call-time value,
// then the room override, then the global config, then DefaultRetentionDays.
func ResolveRetention(explicit, room, global *RetentionConfig) RetentionConfig {
	for _, c := range []*RetentionConfig{explicit, room, global} {
		if c == nil {
			continue
		}
		if c.Indefinite || c.Days > 0 {
			return *c
		}
	}
	return RetentionConfig{Days: DefaultRetentionDays}
}

// Cutoff returns the oldest instant still retained relative to now. The bool
// is false for indefinite retention.
func (c RetentionConfig) Cutoff(now time.Time) (time.Time, bool) {
	if c.Indefinite {
		return time.Time{}, false
	}
	days := c.Days
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour), true
}
