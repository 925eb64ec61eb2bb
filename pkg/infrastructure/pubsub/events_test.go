package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridecoach/server/pkg/domain/sync"
	"github.com/stridecoach/server/pkg/testing/mocks"
	"github.com/stridecoach/server/pkg/types"
)

func sampleJob() *types.DeriveJob {
	return &types.DeriveJob{
		JobID:         "job-1",
		UserID:        "user-1",
		SinceISO:      "2026-03-09T00:00:00Z",
		TriggeredAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		ActivityCount: 2,
	}
}

func TestDecodeDeriveJobFromBareEvent(t *testing.T) {
	e, err := NewCloudEvent(EventSourceWearableSync, EventTypeDeriveRequested, sampleJob())
	require.NoError(t, err)

	job, err := DecodeDeriveJob(e)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, 2, job.ActivityCount)
}

func TestDecodeDeriveJobFromPushEnvelope(t *testing.T) {
	inner, err := NewCloudEvent(EventSourceWearableSync, EventTypeDeriveRequested, sampleJob())
	require.NoError(t, err)
	inner.SetID("job-1")
	innerBytes, err := json.Marshal(inner)
	require.NoError(t, err)

	var push PushMessage
	push.Message.Data = innerBytes

	outer := event.New()
	outer.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	outer.SetSource("//pubsub")
	require.NoError(t, outer.SetData(event.ApplicationJSON, push))

	job, err := DecodeDeriveJob(outer)
	require.NoError(t, err)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "2026-03-09T00:00:00Z", job.SinceISO)
}

func TestDecodeDeriveJobRejectsMissingUser(t *testing.T) {
	e, err := NewCloudEvent(EventSourceWearableSync, EventTypeDeriveRequested, map[string]string{"jobId": "job-1"})
	require.NoError(t, err)

	_, err = DecodeDeriveJob(e)
	assert.ErrorContains(t, err, "missing user id")
}

func TestEnqueueNotConfigured(t *testing.T) {
	for _, q := range []*DeriveQueueAdapter{
		{},
		{Topic: "topic-derive-daily"},
		{Publisher: &mocks.MockPublisher{}},
	} {
		res, err := q.Enqueue(context.Background(), sampleJob())
		require.NoError(t, err)
		assert.False(t, res.Queued)
		assert.Equal(t, sync.ReasonQueueNotConfigured, res.Reason)
	}
}

func TestEnqueuePublishesCloudEvent(t *testing.T) {
	var published event.Event
	var topic string
	pub := &mocks.MockPublisher{
		PublishCloudEventFunc: func(ctx context.Context, t string, e event.Event) (string, error) {
			topic = t
			published = e
			return "msg-1", nil
		},
	}
	q := &DeriveQueueAdapter{Publisher: pub, Topic: "topic-derive-daily"}

	res, err := q.Enqueue(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.True(t, res.Queued)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "topic-derive-daily", topic)
	assert.Equal(t, EventTypeDeriveRequested, published.Type())
	assert.Equal(t, "job-1", published.ID())

	job, err := DecodeDeriveJob(published)
	require.NoError(t, err)
	assert.Equal(t, "user-1", job.UserID)
}
