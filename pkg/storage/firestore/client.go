package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/stridecoach/server/pkg"
	"github.com/stridecoach/server/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Connections is the top-level collection: connections/{userId}
func (c *Client) Connections() *Collection[types.ConnectionState] {
	return &Collection[types.ConnectionState]{
		Ref: c.fs.Collection(shared.CollectionConnections),
	}
}

// ExportRows is the top-level collection the webhook listener writes into:
// export_rows/{rowId}. The sync pipeline only reads it.
func (c *Client) ExportRows() *Collection[types.ExportRow] {
	return &Collection[types.ExportRow]{
		Ref: c.fs.Collection(shared.CollectionExportRows),
	}
}

// UserActivities are sub-collections of Users: users/{uid}/canonical_activities/{id}
func (c *Client) UserActivities(userID string) *Collection[types.Activity] {
	return &Collection[types.Activity]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(shared.SubcollectionActivities),
	}
}

// UserSleep are sub-collections of Users: users/{uid}/sleep_records/{date}
func (c *Client) UserSleep(userID string) *Collection[types.SleepRecord] {
	return &Collection[types.SleepRecord]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(shared.SubcollectionSleep),
	}
}

// UserDailies are sub-collections of Users: users/{uid}/daily_metrics/{date}
func (c *Client) UserDailies(userID string) *Collection[types.DailySummary] {
	return &Collection[types.DailySummary]{
		Ref: c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(shared.SubcollectionDailies),
	}
}
