package sync

import (
	"fmt"
	"strings"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/types"
)

// DatasetConfig binds a dataset key to the vendor scope that gates it.
type DatasetConfig struct {
	Key   string
	Scope string
}

// Datasets lists the dataset families the pipeline syncs, in fetch order.
var Datasets = []DatasetConfig{
	{Key: shared.DatasetActivities, Scope: shared.ScopeActivityExport},
	{Key: shared.DatasetSleep, Scope: shared.ScopeHealthExport},
	{Key: shared.DatasetDailies, Scope: shared.ScopeHealthExport},
}

// writeScopes are granted-but-unsupported scopes reported through the
// synthetic capability entry.
var writeScopes = []string{shared.ScopeWorkoutImport, shared.ScopeCoursesImport}

// canonScope normalizes a vendor scope token for comparison. Vendors are
// not consistent about case or padding in permission responses.
func canonScope(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// HasGrantedScope reports whether want is among scopes, comparing
// normalized tokens. Every scope check in the pipeline goes through this so
// capability resolution and tier gating cannot disagree.
func HasGrantedScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if canonScope(s) == canonScope(want) {
			return true
		}
	}
	return false
}

// ResolveCapabilities decides, per dataset, whether sync is enabled and why
// not when disabled. storeAvailable and storeError come from the export
// ingestion store; rowCounts is the per-dataset row count in the resolved
// window.
func ResolveCapabilities(grantedScopes []string, storeAvailable bool, storeError string, rowCounts map[string]int) []types.DatasetCapability {
	granted := make(map[string]bool, len(grantedScopes))
	for _, s := range grantedScopes {
		granted[canonScope(s)] = true
	}

	caps := make([]types.DatasetCapability, 0, len(Datasets)+1)
	for _, ds := range Datasets {
		cap := types.DatasetCapability{
			Key:               ds.Key,
			PermissionGranted: granted[ds.Scope],
			StoreAvailable:    storeAvailable,
			RowCountInWindow:  rowCounts[ds.Key],
		}
		cap.EnabledForSync = cap.PermissionGranted && cap.StoreAvailable

		switch {
		case !cap.PermissionGranted:
			cap.Reason = "missing permission"
		case !storeAvailable:
			cap.Reason = storeError
		case cap.RowCountInWindow == 0:
			cap.Reason = "no export notifications received in window"
		}
		caps = append(caps, cap)
	}

	// Synthetic entry for write-capable scopes that are granted but not yet
	// supported by this pipeline.
	var unsupported []string
	for _, scope := range writeScopes {
		if granted[scope] {
			unsupported = append(unsupported, scope)
		}
	}
	if len(unsupported) > 0 {
		caps = append(caps, types.DatasetCapability{
			Key:               "write_scopes",
			PermissionGranted: true,
			EnabledForSync:    false,
			Reason:            fmt.Sprintf("granted but not yet supported: %s", strings.Join(unsupported, ", ")),
		})
	}
	return caps
}
