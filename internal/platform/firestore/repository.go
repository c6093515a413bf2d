package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

var (
	errNoProvider   = errors.New("firestore: provider is nil")
	errNoCollection = errors.New("firestore: collection name is required")
	errBlankID      = errors.New("firestore: document id is required")
)

// Document is a decoded snapshot together with its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Collection reads and writes documents of type T in one top-level collection. T is encoded
// with the Firestore struct codec, so its firestore tags name the fields.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds name on provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Ref returns the reference of document id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errBlankID)
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Set overwrites document id with value.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.op("set"), err)
}

// Update patches fields of an existing document; a missing document is a NotFound error.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates)
	return WrapError(c.op("update"), err)
}

// Get loads document id.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// GetAll loads ids in one round trip, skipping documents that do not exist.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	return c.getAll(ctx, ids, "get_all", func(refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
		client, err := c.provider.Client(ctx)
		if err != nil {
			return nil, err
		}
		return client.GetAll(ctx, refs)
	})
}

// TxGetAll is GetAll inside tx. It must run before the transaction writes anything.
func (c *Collection[T]) TxGetAll(ctx context.Context, tx *firestore.Transaction, ids []string) ([]Document[T], error) {
	return c.getAll(ctx, ids, "tx_get_all", tx.GetAll)
}

// Find runs the query produced by narrow, or the whole collection when narrow is nil.
func (c *Collection[T]) Find(ctx context.Context, narrow func(firestore.Query) firestore.Query) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if narrow != nil {
		q = narrow(q)
	}

	it := q.Documents(ctx)
	defer it.Stop()
	var out []Document[T]
	for {
		snap, err := it.Next()
		switch {
		case errors.Is(err, iterator.Done):
			return out, nil
		case err != nil:
			return nil, WrapError(c.op("find"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
}

func (c *Collection[T]) getAll(ctx context.Context, ids []string, action string, fetch func([]*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error)) ([]Document[T], error) {
	if len(ids) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		ref, err := c.Ref(ctx, id)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	snaps, err := fetch(refs)
	if err != nil {
		return nil, WrapError(c.op(action), err)
	}

	out := make([]Document[T], 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	switch {
	case c == nil || c.provider == nil:
		return nil, WrapError(c.op("collection"), errNoProvider)
	case c.name == "":
		return nil, WrapError(c.op("collection"), errNoCollection)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	if c == nil || c.name == "" {
		return "firestore." + action
	}
	return c.name + "." + action
}
