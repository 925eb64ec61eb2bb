package sync

import (
	"testing"
	"time"
)

func TestCheckRateLimit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lastSyncAt *time.Time
		wantAllow  bool
		wantRetry  int
	}{
		{"never synced", nil, true, 0},
		{"cooldown elapsed", tptr(now.Add(-DefaultCooldown)), true, 0},
		{"well past cooldown", tptr(now.Add(-2 * time.Hour)), true, 0},
		{"halfway through cooldown", tptr(now.Add(-300 * time.Second)), false, 300},
		{"just synced", tptr(now), false, 600},
		{"one second left", tptr(now.Add(-599 * time.Second)), false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckRateLimit(tt.lastSyncAt, now, DefaultCooldown)
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllow)
			}
			if d.RetryAfterSeconds != tt.wantRetry {
				t.Errorf("RetryAfterSeconds = %d, want %d", d.RetryAfterSeconds, tt.wantRetry)
			}
			if !d.Allowed && d.Reason != "cooldown" {
				t.Errorf("Reason = %q, want cooldown", d.Reason)
			}
		})
	}
}

func TestCheckRateLimitRoundsPartialSecondsUp(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-299500 * time.Millisecond)

	d := CheckRateLimit(&last, now, DefaultCooldown)
	if d.Allowed {
		t.Fatal("should be denied inside cooldown")
	}
	if d.RetryAfterSeconds != 301 {
		t.Errorf("RetryAfterSeconds = %d, want 301 (rounded up)", d.RetryAfterSeconds)
	}
}

func tptr(t time.Time) *time.Time { return &t }
