package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction. Firestore rejects reads issued after the first
// write, so callers load every document they need before mutating any of them.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts a single transaction run.
type TxOption func(*txSettings)

type txSettings struct {
	maxAttempts int
	budget      time.Duration
}

var (
	defaultTxSettings = txSettings{maxAttempts: 5, budget: 15 * time.Second}

	errNilClient = errors.New("firestore: client is nil")
	errNilTxFunc = errors.New("firestore: transaction function is nil")
)

// WithTxAttempts caps how often the client retries a contended transaction.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTxTimeout bounds the whole run, retries included.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.budget = d
		}
	}
}

// RunTransaction runs fn on client. Aborted attempts are retried by the client; the final
// error is classified through WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errNilClient)
	case fn == nil:
		return WrapError("transaction", errNilTxFunc)
	}

	settings := defaultTxSettings
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	ctx, cancel := withBudget(ctx, settings.budget)
	defer cancel()

	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.maxAttempts)))
}

// withBudget shortens ctx to budget unless the caller already set a tighter deadline.
func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= budget {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}
