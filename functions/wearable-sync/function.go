// Package wearablesync is the Cloud Functions entry point for on-demand
// wearable synchronization.
package wearablesync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	stdsync "sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/stridecoach/server/pkg/bootstrap"
	domainsync "github.com/stridecoach/server/pkg/domain/sync"
)

var (
	svc     *bootstrap.Service
	svcOnce stdsync.Once
	svcErr  error

	orchestrator *domainsync.Orchestrator
)

func init() {
	functions.HTTP("SyncWearable", SyncWearable)
}

func initService(ctx context.Context) (*domainsync.Orchestrator, error) {
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx)
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
		orchestrator = baseSvc.NewOrchestrator(bootstrap.NewLogger("wearable-sync"))
	})
	return orchestrator, svcErr
}

// SyncRequest is the expected request body
type SyncRequest struct {
	UserID string `json:"userId"`
	// Since optionally bounds the window (ISO date or RFC3339 timestamp)
	Since string `json:"since,omitempty"`
	// Trigger is "backfill" to force the full historical window
	Trigger string `json:"trigger,omitempty"`
}

// SyncResponse is the response body
type SyncResponse struct {
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	NeedsReauth bool                   `json:"needsReauth,omitempty"`
	RetryAfter  int                    `json:"retryAfterSeconds,omitempty"`
	Result      *domainsync.SyncResult `json:"result,omitempty"`
}

// SyncWearable is the HTTP entry point for one sync invocation.
func SyncWearable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: "Method not allowed"})
		return
	}

	orch, err := initService(ctx)
	if err != nil {
		slog.Error("Service init failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: "Internal server error"})
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: "Invalid request body"})
		return
	}
	if req.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: "userId is required"})
		return
	}

	result, err := orch.Sync(ctx, domainsync.Request{
		UserID:  req.UserID,
		Since:   req.Since,
		Trigger: req.Trigger,
	})
	if err != nil {
		WriteSyncError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SyncResponse{Success: true, Result: result})
}

// WriteSyncError maps pipeline errors onto HTTP statuses: auth failures are
// 401 with a re-auth hint, rate limiting is 429 with Retry-After, anything
// else is a 500.
func WriteSyncError(w http.ResponseWriter, err error) {
	var authErr *domainsync.AuthError
	if errors.As(err, &authErr) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(SyncResponse{
			Success:     false,
			Error:       authErr.Error(),
			NeedsReauth: true,
		})
		return
	}

	var rateErr *domainsync.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(SyncResponse{
			Success:    false,
			Error:      rateErr.Error(),
			RetryAfter: rateErr.RetryAfterSeconds,
		})
		return
	}

	slog.Error("Sync failed", "error", err)
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(SyncResponse{Success: false, Error: err.Error()})
}
