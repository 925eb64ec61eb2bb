// Command sync-api serves the wearable sync pipeline over HTTP for
// long-running deployments, with Prometheus metrics and health checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stridecoach/server/pkg/bootstrap"
	domainsync "github.com/stridecoach/server/pkg/domain/sync"
)

func main() {
	logger := bootstrap.NewLogger("sync-api")
	ctx := context.Background()

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		logger.Error("Service init failed", "error", err)
		os.Exit(1)
	}
	orch := svc.NewOrchestrator(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/users/{userID}/sync", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var body struct {
			Since   string `json:"since,omitempty"`
			Trigger string `json:"trigger,omitempty"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body"})
				return
			}
		}

		result, err := orch.Sync(req.Context(), domainsync.Request{
			UserID:  chi.URLParam(req, "userID"),
			Since:   body.Since,
			Trigger: body.Trigger,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		json.NewEncoder(w).Encode(result)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		logger.Info("Listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
	logger.Info("Shut down cleanly")
}

func writeError(w http.ResponseWriter, err error) {
	var authErr *domainsync.AuthError
	if errors.As(err, &authErr) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": authErr.Error(), "needsReauth": true})
		return
	}
	var rateErr *domainsync.RateLimitError
	if errors.As(err, &rateErr) {
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": rateErr.Error(), "retryAfterSeconds": rateErr.RetryAfterSeconds})
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
}
