package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/solarshop/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore keeps entries in a Firestore collection; claims run in a transaction.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a store over provider. An empty collection uses the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}, nil
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return 0, Entry{}, err
	}

	var (
		state State
		entry Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := txLoad(tx, ref)
		if err != nil {
			return err
		}
		if !found || existing.expired(now) {
			entry = pendingEntry(key, fingerprint, now, normaliseTTL(ttl))
			state = StateClaimed
			return tx.Set(ref, toDocument(entry))
		}
		state, entry, err = classify(existing, fingerprint)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			return 0, Entry{}, ErrFingerprintMismatch
		}
		return 0, Entry{}, err
	}
	return state, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		prev, found, err := txLoad(tx, ref)
		if err != nil {
			return err
		}
		if found && prev.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		return tx.Set(ref, toDocument(completedEntry(prev, key, fingerprint, resp, now, normaliseTTL(ttl))))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("idempotency.abandon", err)
	}
	return nil
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.purge", err)
		}
	}
	writer.End()
	return len(docs), nil
}

func txLoad(tx *firestore.Transaction, ref *firestore.DocumentRef) (Entry, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return Entry{}, false, err
	}
	return doc.entry(), true, nil
}

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func toDocument(e Entry) entryDocument {
	return entryDocument(e)
}

func (d entryDocument) entry() Entry {
	return Entry(d)
}
