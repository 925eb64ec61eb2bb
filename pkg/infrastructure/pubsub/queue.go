package pubsub

import (
	"context"
	"fmt"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/domain/sync"
	"github.com/stridecoach/server/pkg/types"
)

// DeriveQueueAdapter enqueues derive jobs as CloudEvents on Pub/Sub. A nil
// publisher or empty topic reports "queue not configured" instead of
// erroring, which lets the pipeline fall back to inline processing.
type DeriveQueueAdapter struct {
	Publisher shared.Publisher
	Topic     string
}

func (q *DeriveQueueAdapter) Enqueue(ctx context.Context, job *types.DeriveJob) (*types.EnqueueResult, error) {
	if q.Publisher == nil || q.Topic == "" {
		return &types.EnqueueResult{Queued: false, Reason: sync.ReasonQueueNotConfigured}, nil
	}

	e, err := NewCloudEvent(EventSourceWearableSync, EventTypeDeriveRequested, job)
	if err != nil {
		return nil, fmt.Errorf("build derive event: %w", err)
	}
	e.SetID(job.JobID)

	if _, err := q.Publisher.PublishCloudEvent(ctx, q.Topic, e); err != nil {
		return nil, fmt.Errorf("publish derive event: %w", err)
	}
	return &types.EnqueueResult{Queued: true, JobID: job.JobID}, nil
}
