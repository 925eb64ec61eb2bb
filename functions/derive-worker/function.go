// Package deriveworker consumes queued derive jobs and computes the daily
// training-load and readiness report for the user.
package deriveworker

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/stridecoach/server/pkg/bootstrap"
	"github.com/stridecoach/server/pkg/framework"
	infrapubsub "github.com/stridecoach/server/pkg/infrastructure/pubsub"
)

// snapshotLookbackDays matches the chronic-load horizon of the derive
// computation.
const snapshotLookbackDays = 28

var (
	svc     *bootstrap.Service
	svcOnce stdsync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("DeriveDaily", DeriveDaily)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
		if svcErr != nil {
			slog.Error("Failed to initialize service", "error", svcErr)
		}
	})
	return svc, svcErr
}

// DeriveDaily is the CloudEvent entry point for one queued derive job.
func DeriveDaily(ctx context.Context, e event.Event) error {
	service, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}
	return framework.WrapCloudEvent("derive-worker", service, Handle)(ctx, e)
}

// Handle decodes the job, rebuilds the user's snapshot from the persisted
// canonical records, and runs the derive computation over it.
func Handle(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
	job, err := infrapubsub.DecodeDeriveJob(e)
	if err != nil {
		return nil, err
	}

	snap, err := fwCtx.Service.DB.LoadSnapshot(ctx, job.UserID, snapshotLookbackDays)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if err := fwCtx.Service.RunDerive(ctx, job, snap, fwCtx.Logger); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"job_id":     job.JobID,
		"activities": len(snap.Activities),
	}, nil
}
