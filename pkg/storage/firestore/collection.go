package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection is a typed wrapper around a Firestore collection. T carries
// firestore struct tags for (de)serialization.
type Collection[T any] struct {
	Ref *firestore.CollectionRef
}

func (c *Collection[T]) Doc(id string) *DocumentRef[T] {
	return &DocumentRef[T]{Ref: c.Ref.Doc(id)}
}

// Query exposes the underlying query builder for Where/OrderBy chains.
func (c *Collection[T]) Query() firestore.Query {
	return c.Ref.Query
}

// GetAll runs the query and decodes every document into T.
func (c *Collection[T]) GetAll(ctx context.Context, q firestore.Query) ([]T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var item T
		if err := snap.DataTo(&item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// GetAllRaw runs the query and returns the raw document maps.
func (c *Collection[T]) GetAllRaw(ctx context.Context, q firestore.Query) ([]map[string]interface{}, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []map[string]interface{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Data())
	}
	return out, nil
}

type DocumentRef[T any] struct {
	Ref *firestore.DocumentRef
}

// Get fetches and decodes the document. A missing document returns
// (nil, nil) so callers can distinguish absence from store failure.
func (d *DocumentRef[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.Ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out T
	if err := snap.DataTo(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *DocumentRef[T]) Set(ctx context.Context, data *T) error {
	_, err := d.Ref.Set(ctx, data)
	return err
}

// Update applies a partial update. Keys are Firestore field paths and may
// be dotted; the rest of the document is left untouched.
func (d *DocumentRef[T]) Update(ctx context.Context, fields map[string]interface{}) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	// Deterministic ordering keeps retried writes identical.
	sort.Slice(updates, func(i, j int) bool { return updates[i].Path < updates[j].Path })
	_, err := d.Ref.Update(ctx, updates)
	return err
}
