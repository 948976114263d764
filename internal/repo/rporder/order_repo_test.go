package rporder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbridge/internal/entity/etorder"
)

func sampleOrder(t *testing.T) *etorder.Order {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o, err := etorder.NewOrder("order-1", "chat-1", now)
	require.NoError(t, err)
	require.NoError(t, o.Transition(etorder.StatusCurrencySelected, "CurrencySelected", map[string]string{"currency": "BTC"}, now))
	o.Currency = "BTC"
	tx := "tx-1"
	o.BlockchainTxID = &tx
	return o
}

func TestPOConversionKeepsEventLogAndVersion(t *testing.T) {
	o := sampleOrder(t)

	po, err := toPO(o)
	require.NoError(t, err)
	assert.Equal(t, int64(2), po.Version)
	assert.Equal(t, "CURRENCY_SELECTED", po.Status)

	back, err := toDomain(po)
	require.NoError(t, err)
	assert.Equal(t, o.Status, back.Status)
	assert.Equal(t, "tx-1", *back.BlockchainTxID)
	require.Len(t, back.EventLog, 2)
	assert.Equal(t, "CurrencySelected", back.EventLog[1].Event)
	assert.JSONEq(t, `{"currency":"BTC"}`, string(back.EventLog[1].Payload))
}

func TestToDomainRejectsUnknownStatus(t *testing.T) {
	po, err := toPO(sampleOrder(t))
	require.NoError(t, err)
	po.Status = "BOGUS"
	_, err = toDomain(po)
	assert.ErrorIs(t, err, etorder.ErrUnknownStatus)
}

func TestMemoryRepositoryIgnoresStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	o := sampleOrder(t)
	stale := o.Clone()
	require.NoError(t, o.Transition(etorder.StatusNetworkSelected, "NetworkSelected", nil, time.Now()))

	require.NoError(t, repo.Save(ctx, o))
	require.NoError(t, repo.Save(ctx, stale))

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, etorder.StatusNetworkSelected, got.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMemoryRepositoryListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	active := sampleOrder(t)
	done, err := etorder.NewOrder("order-2", "chat-2", time.Now())
	require.NoError(t, err)
	require.NoError(t, done.Transition(etorder.StatusCancelled, "Cancel", nil, time.Now()))

	require.NoError(t, repo.Save(ctx, active))
	require.NoError(t, repo.Save(ctx, done))

	list, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "order-1", list[0].ID)
}
