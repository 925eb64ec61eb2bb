// Package bootstrap wires configuration, logging, and the GCP-backed
// collaborators the sync pipeline runs against.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/domain/derive"
	"github.com/stridecoach/server/pkg/domain/sync"
	"github.com/stridecoach/server/pkg/infrastructure/database"
	"github.com/stridecoach/server/pkg/infrastructure/oauth"
	"github.com/stridecoach/server/pkg/infrastructure/notifications"
	infrapubsub "github.com/stridecoach/server/pkg/infrastructure/pubsub"
	infrasentry "github.com/stridecoach/server/pkg/infrastructure/sentry"
	infrastorage "github.com/stridecoach/server/pkg/infrastructure/storage"
	"github.com/stridecoach/server/pkg/integrations/garmin"
	"github.com/stridecoach/server/pkg/types"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID         string
	EnablePublish     bool
	EnablePush        bool
	GCSArtifactBucket string
	DeriveTopic       string

	GarminClientID     string
	GarminClientSecret string
	GarminBaseURL      string

	SentryDSN   string
	Environment string

	CooldownSeconds      int
	DefaultLookbackDays  int
	BackfillLookbackDays int
}

// Service holds initialized dependencies
type Service struct {
	DB        *database.FirestoreAdapter
	Store     shared.BlobStore
	Pub       shared.Publisher
	Queue     shared.DeriveQueue
	Telemetry shared.Telemetry
	Notify    shared.ReconnectNotifier
	Config    *Config
}

// LoadConfig reads configuration from environment variables
func LoadConfig() *Config {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		projectID = shared.ProjectID // Fallback
	}

	deriveTopic := os.Getenv("DERIVE_TOPIC")
	if deriveTopic == "" {
		deriveTopic = shared.TopicDeriveDaily
	}

	return &Config{
		ProjectID:         projectID,
		EnablePublish:     os.Getenv("ENABLE_PUBLISH") == "true",
		EnablePush:        os.Getenv("ENABLE_PUSH_NOTIFICATIONS") == "true",
		GCSArtifactBucket: os.Getenv("GCS_ARTIFACT_BUCKET"),
		DeriveTopic:       deriveTopic,

		GarminClientID:     os.Getenv("GARMIN_CLIENT_ID"),
		GarminClientSecret: os.Getenv("GARMIN_CLIENT_SECRET"),
		GarminBaseURL:      os.Getenv("GARMIN_BASE_URL"),

		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Environment: os.Getenv("ENVIRONMENT"),

		CooldownSeconds:      envInt("SYNC_COOLDOWN_SECONDS", 0),
		DefaultLookbackDays:  envInt("SYNC_LOOKBACK_DAYS", 0),
		BackfillLookbackDays: envInt("BACKFILL_LOOKBACK_DAYS", 0),
	}
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetSlogHandlerOptions returns standard handler options for GCP
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false // stop
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		// Preserve original time, level, and PC; keep the component attr in
		// the structured payload.
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// InitLogger configures structured logging with Cloud Logging compatible keys
func InitLogger() {
	opts := GetSlogHandlerOptions(slog.LevelInfo)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(&ComponentHandler{Handler: handler})
	slog.SetDefault(logger)
}

// NewLogger creates a configured logger instance
func NewLogger(serviceName string) *slog.Logger {
	logLevelStr := os.Getenv("LOG_LEVEL")
	var level slog.Level
	switch strings.ToLower(logLevelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := GetSlogHandlerOptions(level)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService initializes all standard dependencies
func NewService(ctx context.Context) (*Service, error) {
	InitLogger()
	cfg := LoadConfig()

	slog.Info("Initializing service", "project_id", cfg.ProjectID)

	// Firestore
	oauthCfg := oauth.Config{ClientID: cfg.GarminClientID, ClientSecret: cfg.GarminClientSecret}
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		slog.Error("Firestore init failed", "error", err)
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	db := database.NewFirestoreAdapter(fsClient, oauthCfg)

	// Pub/Sub
	var pubAdapter shared.Publisher
	if cfg.EnablePublish {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			slog.Error("PubSub init failed", "error", err)
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		pubAdapter = &infrapubsub.PubSubAdapter{Client: psClient}
		slog.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)")
	} else {
		pubAdapter = &infrapubsub.LogPublisher{}
		slog.Info("Pub/Sub: MOCK (LogPublisher)")
	}

	// Storage
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		slog.Error("Storage init failed", "error", err)
		return nil, fmt.Errorf("storage init: %w", err)
	}

	// Sentry
	var telemetry shared.Telemetry = infrasentry.NopTelemetry{}
	if cfg.SentryDSN != "" {
		if err := infrasentry.Init(infrasentry.Config{
			DSN:         cfg.SentryDSN,
			Environment: cfg.Environment,
			ServerName:  "wearable-sync",
		}, slog.Default()); err != nil {
			return nil, err
		}
		telemetry = &infrasentry.Telemetry{Logger: slog.Default()}
	}

	// The queue adapter only enqueues when publishing is real; otherwise it
	// reports "queue not configured" and the derive step runs inline.
	var queue shared.DeriveQueue
	if cfg.EnablePublish {
		queue = &infrapubsub.DeriveQueueAdapter{Publisher: pubAdapter, Topic: cfg.DeriveTopic}
	} else {
		queue = &infrapubsub.DeriveQueueAdapter{}
	}

	// FCM reconnect prompts
	var notify shared.ReconnectNotifier
	if cfg.EnablePush {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			slog.Error("Firebase init failed", "error", err)
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		fcm, err := notifications.NewFCMAdapter(ctx, app, fsClient)
		if err != nil {
			slog.Error("FCM init failed", "error", err)
			return nil, fmt.Errorf("fcm init: %w", err)
		}
		notify = fcm
		slog.Info("Push notifications: ENABLED")
	}

	return &Service{
		DB:        db,
		Pub:       pubAdapter,
		Store:     &infrastorage.StorageAdapter{Client: gcsClient},
		Queue:     queue,
		Telemetry: telemetry,
		Notify:    notify,
		Config:    cfg,
	}, nil
}

// NewOrchestrator wires the full sync pipeline over this service's
// collaborators.
func (s *Service) NewOrchestrator(logger *slog.Logger) *sync.Orchestrator {
	return &sync.Orchestrator{
		Connections: s.DB,
		Exports:     s.DB,
		Analytics:   s.DB,
		Queue:       s.Queue,
		Telemetry:   s.Telemetry,
		Blobs:       s.Store,
		Notify:      s.Notify,
		NewVendor:   s.vendorFactory(),
		RunInline:   s.inlineDerive(logger),
		Logger:      logger,
		Config: sync.Config{
			Cooldown:             time.Duration(s.Config.CooldownSeconds) * time.Second,
			DefaultLookbackDays:  s.Config.DefaultLookbackDays,
			BackfillLookbackDays: s.Config.BackfillLookbackDays,
			ArtifactBucket:       s.Config.GCSArtifactBucket,
		},
	}
}

// vendorFactory builds a Garmin client bound to one user's stored OAuth
// credential.
func (s *Service) vendorFactory() sync.VendorFactory {
	return func(userID string) sync.VendorAPI {
		source := oauth.NewConnectionTokenSource(s.DB, userID, oauth.Config{
			ClientID:     s.Config.GarminClientID,
			ClientSecret: s.Config.GarminClientSecret,
		})
		provider := oauth.AccessTokenProvider{Source: source}

		var client *garmin.Client
		if s.Config.GarminBaseURL != "" {
			client = garmin.NewClientWithBaseURL(provider, s.Config.GarminBaseURL)
		} else {
			client = garmin.NewClient(provider)
		}
		return &garminVendor{client: client}
	}
}

// garminVendor adapts the Garmin client to the pipeline's vendor interface.
type garminVendor struct {
	client *garmin.Client
}

func (v *garminVendor) Permissions(ctx context.Context) ([]string, error) {
	return v.client.Permissions(ctx)
}

func (v *garminVendor) ExternalUserID(ctx context.Context) (string, error) {
	return v.client.UserID(ctx)
}

func (v *garminVendor) UploadedSummaries(ctx context.Context, dataset string, w sync.Window) ([]map[string]interface{}, error) {
	return v.client.UploadedSummaries(ctx, dataset, w.Start, w.End)
}

func (v *garminVendor) BackfillSummaries(ctx context.Context, dataset string, w sync.Window) ([]map[string]interface{}, error) {
	return v.client.BackfillSummaries(ctx, dataset, w.Start, w.End)
}

// inlineDerive runs the derive computation in-process when the queue is not
// configured.
func (s *Service) inlineDerive(logger *slog.Logger) sync.InlineDeriveFunc {
	return func(ctx context.Context, job *types.DeriveJob, snap *types.Snapshot) error {
		return s.RunDerive(ctx, job, snap, logger)
	}
}

// RunDerive computes the daily report for a snapshot, persists it under the
// user document, and archives a copy next to the sync artifacts. The queue
// worker and the inline fallback both run through here.
func (s *Service) RunDerive(ctx context.Context, job *types.DeriveJob, snap *types.Snapshot, logger *slog.Logger) error {
	report := derive.RunForSnapshot(snap, job.TriggeredAt)
	logger.Info("Derived daily report",
		"job_id", job.JobID,
		"acwr", report.Load.ACWR,
		"load_zone", report.Load.Zone,
		"readiness", report.ReadinessScore,
		"tier", report.ReadinessTier)

	if err := s.DB.SaveDailyReport(ctx, job.UserID, report.Date, report); err != nil {
		return err
	}

	if s.Config.GCSArtifactBucket == "" {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal derive report: %w", err)
	}
	object := fmt.Sprintf("derive/%s/%s.json", job.UserID, report.Date)
	if err := s.Store.Write(ctx, s.Config.GCSArtifactBucket, object, data); err != nil {
		return fmt.Errorf("archive derive report: %w", err)
	}
	return nil
}
