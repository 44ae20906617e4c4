package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		val  string
		want time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "5", 5 * time.Second},
		{"fractional rounds up", "1.2", 2 * time.Second},
		{"zero", "0", 0},
		{"negative", "-3", 0},
		{"http date", now.Add(90 * time.Second).Format(time.RFC1123), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(time.RFC1123), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.val, now))
		})
	}
}

func TestParseResetHeader(t *testing.T) {
	ms, ok := ParseResetHeader(" 1700000000 ")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000000), ms)

	_, ok = ParseResetHeader("")
	assert.False(t, ok)
	_, ok = ParseResetHeader("-1")
	assert.False(t, ok)
}

func TestIsInFuture(t *testing.T) {
	now := time.UnixMilli(1000)
	assert.True(t, IsInFuture(1001, now))
	assert.False(t, IsInFuture(1000, now))
	assert.False(t, IsInFuture(999, now))
}
