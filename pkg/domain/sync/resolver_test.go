package sync

import (
	"testing"
	"time"
)

func TestResolveWindowPrecedence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cursor := time.Date(2026, 3, 8, 9, 30, 0, 0, time.UTC)

	t.Run("requested since wins over cursor", func(t *testing.T) {
		win := ResolveWindow("2026-03-01", "", &cursor, now, DefaultLookbackDays, BackfillLookbackDays)
		if win.Source != WindowSourceRequested {
			t.Errorf("source = %q", win.Source)
		}
		if win.Since.Format("2006-01-02") != "2026-03-01" {
			t.Errorf("since = %v", win.Since)
		}
	})

	t.Run("cursor wins over lookback", func(t *testing.T) {
		win := ResolveWindow("", "", &cursor, now, DefaultLookbackDays, BackfillLookbackDays)
		if win.Source != WindowSourceCursor {
			t.Errorf("source = %q", win.Source)
		}
		if !win.Since.Equal(cursor) {
			t.Errorf("since = %v, want cursor %v", win.Since, cursor)
		}
	})

	t.Run("lookback when nothing else", func(t *testing.T) {
		win := ResolveWindow("", "", nil, now, DefaultLookbackDays, BackfillLookbackDays)
		if win.Source != WindowSourceLookback {
			t.Errorf("source = %q", win.Source)
		}
		if want := now.AddDate(0, 0, -DefaultLookbackDays); !win.Since.Equal(want) {
			t.Errorf("since = %v, want %v", win.Since, want)
		}
	})
}

func TestResolveWindowBackfillOverridesEverything(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cursor := now.AddDate(0, 0, -1)

	win := ResolveWindow("2026-03-09", TriggerBackfill, &cursor, now, DefaultLookbackDays, BackfillLookbackDays)
	if win.LookbackDays != BackfillLookbackDays {
		t.Errorf("lookback = %d, want %d", win.LookbackDays, BackfillLookbackDays)
	}
	if want := now.AddDate(0, 0, -BackfillLookbackDays); !win.Since.Equal(want) {
		t.Errorf("since = %v, want %v", win.Since, want)
	}
}

func TestResolveWindowAcceptedFormats(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, value := range []string{
		"2026-03-05T08:00:00Z",
		"2026-03-05T08:00:00",
		"2026-03-05",
	} {
		win := ResolveWindow(value, "", nil, now, DefaultLookbackDays, BackfillLookbackDays)
		if win.Source != WindowSourceRequested {
			t.Errorf("since %q: source = %q, want requested", value, win.Source)
		}
	}
}

func TestResolveWindowUnparseableSinceFallsThrough(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	cursor := now.AddDate(0, 0, -2)

	win := ResolveWindow("not-a-date", "", &cursor, now, DefaultLookbackDays, BackfillLookbackDays)
	if win.Source != WindowSourceCursor {
		t.Errorf("source = %q, want cursor fallback", win.Source)
	}
}

func TestResolveWindowZeroCursorIgnored(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	zero := time.Time{}

	win := ResolveWindow("", "", &zero, now, DefaultLookbackDays, BackfillLookbackDays)
	if win.Source != WindowSourceLookback {
		t.Errorf("source = %q, want lookback", win.Source)
	}
}
