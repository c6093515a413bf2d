//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/platform/firestore/firestoretest"
)

type stockLine struct {
	SKU      string `firestore:"sku"`
	Quantity int    `firestore:"quantity"`
	Active   bool   `firestore:"active"`
}

func TestCollectionAgainstEmulator(t *testing.T) {
	provider := firestoretest.NewProvider(t, "collection-test")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, provider.Ping(ctx))

	stock := pfirestore.NewCollection[stockLine](provider, "stock_lines")
	require.NoError(t, stock.Set(ctx, "panel-450", stockLine{SKU: "panel-450", Quantity: 4, Active: true}))
	require.NoError(t, stock.Set(ctx, "battery-10k", stockLine{SKU: "battery-10k", Quantity: 1, Active: true}))
	require.NoError(t, stock.Set(ctx, "legacy-200", stockLine{SKU: "legacy-200", Active: false}))

	t.Run("get all skips missing", func(t *testing.T) {
		docs, err := stock.GetAll(ctx, []string{"panel-450", "nope", "battery-10k"})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("find narrows query", func(t *testing.T) {
		docs, err := stock.Find(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("active", "==", true).OrderBy("sku", firestore.Asc)
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "battery-10k", docs[0].ID)
		assert.False(t, docs[0].CreateTime.IsZero())
	})

	t.Run("missing document is not found", func(t *testing.T) {
		_, err := stock.Get(ctx, "nope")
		var classified interface{ IsNotFound() bool }
		require.True(t, errors.As(err, &classified))
		assert.True(t, classified.IsNotFound())

		err = stock.Update(ctx, "nope", []firestore.Update{{Path: "quantity", Value: 1}})
		require.True(t, errors.As(err, &classified))
		assert.True(t, classified.IsNotFound())
	})

	t.Run("transaction reserves stock", func(t *testing.T) {
		err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			docs, err := stock.TxGetAll(ctx, tx, []string{"panel-450", "battery-10k"})
			if err != nil {
				return err
			}
			for _, doc := range docs {
				ref, err := stock.Ref(ctx, doc.ID)
				if err != nil {
					return err
				}
				if err := tx.Update(ref, []firestore.Update{{Path: "quantity", Value: doc.Data.Quantity - 1}}); err != nil {
					return err
				}
			}
			return nil
		}, pfirestore.WithTxAttempts(3))
		require.NoError(t, err)

		panel, err := stock.Get(ctx, "panel-450")
		require.NoError(t, err)
		assert.Equal(t, 3, panel.Data.Quantity)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, stop := context.WithCancel(context.Background())
		stop()
		err := provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
