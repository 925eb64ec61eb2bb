package pubsub

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/stridecoach/server/pkg/types"
)

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// PushMessage is the Pub/Sub push envelope a CloudEvent-triggered function
// receives. Message.Data carries the published payload.
type PushMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeDeriveJob extracts a derive job from a triggering event. It accepts
// both the Pub/Sub push envelope wrapping a serialized CloudEvent, which is
// what the queue adapter publishes, and a bare CloudEvent carrying the job
// directly.
func DecodeDeriveJob(e event.Event) (*types.DeriveJob, error) {
	payload := e.Data()

	var push PushMessage
	if err := e.DataAs(&push); err == nil && len(push.Message.Data) > 0 {
		var inner event.Event
		if err := json.Unmarshal(push.Message.Data, &inner); err == nil && len(inner.Data()) > 0 {
			payload = inner.Data()
		} else {
			payload = push.Message.Data
		}
	}

	var job types.DeriveJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode derive job: %w", err)
	}
	if job.UserID == "" {
		return nil, fmt.Errorf("derive job missing user id")
	}
	return &job, nil
}
