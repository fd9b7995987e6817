package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveRetentionPrecedence(t *testing.T) {
	explicit := &RetentionConfig{Days: 7}
	room := &RetentionConfig{Days: 14}
	global := &RetentionConfig{Indefinite: true}

	assert.Equal(t, *explicit, ResolveRetention(explicit, room, global))
	assert.Equal(t, *room, ResolveRetention(nil, room, global))
	assert.Equal(t, *global, ResolveRetention(nil, nil, global))
	assert.Equal(t, RetentionConfig{Days: DefaultRetentionDays}, ResolveRetention(nil, nil, nil))
}

func TestResolveRetentionSkipsUnsetValues(t *testing.T) {
	assert.Equal(t, RetentionConfig{Days: 3},
		ResolveRetention(&RetentionConfig{}, &RetentionConfig{Days: 3}, nil))
}

func TestCutoff(t *testing.T) {
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

	cutoff, ok := RetentionConfig{Days: 7}.Cutoff(now)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 13, 12, 0, 0, 0, time.UTC), cutoff)

	_, ok = RetentionConfig{Indefinite: true}.Cutoff(now)
	assert.False(t, ok)
}

func TestRoomRetention(t *testing.T) {
	assert.Nil(t, Room{}.Retention())

	days := 5
	assert.Equal(t, &RetentionConfig{Days: 5}, Room{RetentionDays: &days}.Retention())

	forever := -1
	assert.Equal(t, &RetentionConfig{Indefinite: true}, Room{RetentionDays: &forever}.Retention())
}
