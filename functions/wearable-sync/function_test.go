package wearablesync

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domainsync "github.com/stridecoach/server/pkg/domain/sync"
)

func TestSyncWearableRejectsNonPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	SyncWearable(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWriteSyncErrorAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSyncError(rec, &domainsync.AuthError{Message: "token rejected"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var resp SyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.NeedsReauth {
		t.Error("needsReauth should be set for auth failures")
	}
	if resp.Success {
		t.Error("success should be false")
	}
}

func TestWriteSyncErrorWrappedAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &domainsync.AuthError{Message: "refresh failed", Cause: errors.New("expired")}
	WriteSyncError(rec, wrapped)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestWriteSyncErrorRateLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSyncError(rec, &domainsync.RateLimitError{RetryAfterSeconds: 300})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "300" {
		t.Errorf("Retry-After = %q, want 300", got)
	}
	var resp SyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RetryAfter != 300 {
		t.Errorf("retryAfterSeconds = %d, want 300", resp.RetryAfter)
	}
}

func TestWriteSyncErrorGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSyncError(rec, errors.New("firestore unavailable"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
