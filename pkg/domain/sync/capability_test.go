package sync

import (
	"strings"
	"testing"

	shared "github.com/stridecoach/server/pkg"
)

func TestResolveCapabilitiesAllGranted(t *testing.T) {
	scopes := []string{shared.ScopeActivityExport, shared.ScopeHealthExport}
	counts := map[string]int{shared.DatasetActivities: 3, shared.DatasetSleep: 1, shared.DatasetDailies: 2}

	caps := ResolveCapabilities(scopes, true, "", counts)
	if len(caps) != 3 {
		t.Fatalf("expected 3 capabilities, got %d", len(caps))
	}
	for _, c := range caps {
		if !c.EnabledForSync {
			t.Errorf("%s should be enabled: %+v", c.Key, c)
		}
		if c.Reason != "" {
			t.Errorf("%s should have no reason, got %q", c.Key, c.Reason)
		}
	}
}

func TestResolveCapabilitiesReasonOrdering(t *testing.T) {
	t.Run("missing permission beats store failure", func(t *testing.T) {
		caps := ResolveCapabilities(nil, false, "store unreachable", nil)
		for _, c := range caps {
			if c.Reason != "missing permission" {
				t.Errorf("%s reason = %q, want missing permission", c.Key, c.Reason)
			}
			if c.EnabledForSync {
				t.Errorf("%s should be disabled", c.Key)
			}
		}
	})

	t.Run("store failure beats empty window", func(t *testing.T) {
		scopes := []string{shared.ScopeActivityExport, shared.ScopeHealthExport}
		caps := ResolveCapabilities(scopes, false, "store unreachable", nil)
		for _, c := range caps {
			if c.Reason != "store unreachable" {
				t.Errorf("%s reason = %q, want store error", c.Key, c.Reason)
			}
		}
	})

	t.Run("empty window is informational", func(t *testing.T) {
		scopes := []string{shared.ScopeActivityExport, shared.ScopeHealthExport}
		caps := ResolveCapabilities(scopes, true, "", map[string]int{})
		for _, c := range caps {
			if c.Reason != "no export notifications received in window" {
				t.Errorf("%s reason = %q", c.Key, c.Reason)
			}
			if !c.EnabledForSync {
				t.Errorf("%s stays enabled with an empty window", c.Key)
			}
		}
	})
}

func TestResolveCapabilitiesPartialScopes(t *testing.T) {
	caps := ResolveCapabilities([]string{shared.ScopeActivityExport}, true, "", map[string]int{shared.DatasetActivities: 1})

	var activities, sleep bool
	for _, c := range caps {
		switch c.Key {
		case shared.DatasetActivities:
			activities = c.EnabledForSync
		case shared.DatasetSleep:
			sleep = c.EnabledForSync
		}
	}
	if !activities {
		t.Error("activities should be enabled")
	}
	if sleep {
		t.Error("sleep should be disabled without the health scope")
	}
}

func TestResolveCapabilitiesScopeNormalization(t *testing.T) {
	caps := ResolveCapabilities([]string{" activity_export "}, true, "", map[string]int{shared.DatasetActivities: 1})
	for _, c := range caps {
		if c.Key == shared.DatasetActivities && !c.PermissionGranted {
			t.Error("scope matching should be case and whitespace insensitive")
		}
	}
}

func TestResolveCapabilitiesWriteScopesEntry(t *testing.T) {
	scopes := []string{shared.ScopeActivityExport, shared.ScopeWorkoutImport, shared.ScopeCoursesImport}
	caps := ResolveCapabilities(scopes, true, "", nil)

	var found bool
	for _, c := range caps {
		if c.Key != "write_scopes" {
			continue
		}
		found = true
		if c.EnabledForSync {
			t.Error("write scopes must never be enabled for sync")
		}
		if !strings.Contains(c.Reason, shared.ScopeWorkoutImport) || !strings.Contains(c.Reason, shared.ScopeCoursesImport) {
			t.Errorf("reason should list the unsupported scopes: %q", c.Reason)
		}
	}
	if !found {
		t.Error("expected a synthetic write_scopes entry")
	}

	// No entry when no write scopes are granted.
	caps = ResolveCapabilities([]string{shared.ScopeActivityExport}, true, "", nil)
	for _, c := range caps {
		if c.Key == "write_scopes" {
			t.Error("unexpected write_scopes entry")
		}
	}
}

func TestHasGrantedScopeNormalizes(t *testing.T) {
	tests := []struct {
		scopes []string
		want   string
		has    bool
	}{
		{[]string{shared.ScopeHistoricalExport}, shared.ScopeHistoricalExport, true},
		{[]string{"historical_export"}, shared.ScopeHistoricalExport, true},
		{[]string{" Historical_Export "}, shared.ScopeHistoricalExport, true},
		{[]string{"activity_export"}, shared.ScopeHistoricalExport, false},
		{nil, shared.ScopeHistoricalExport, false},
	}
	for _, tt := range tests {
		if got := HasGrantedScope(tt.scopes, tt.want); got != tt.has {
			t.Errorf("HasGrantedScope(%v, %q) = %v, want %v", tt.scopes, tt.want, got, tt.has)
		}
	}
}
