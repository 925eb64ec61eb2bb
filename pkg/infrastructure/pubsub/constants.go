package pubsub

// CloudEvent types and sources published by the sync pipeline.
const (
	EventTypeDeriveRequested = "com.stridecoach.derive.daily.requested"

	EventSourceWearableSync = "//stridecoach/wearable-sync"
)
