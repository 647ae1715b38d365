package memory

import (
	"context"
	"testing"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(balance int64) *model.ProxyAccount {
	return &model.ProxyAccount{
		Username: "proxy",
		Platform: "alipay",
		Balance:  decimal.NewFromInt(balance),
		Status:   model.AccountStatusActive,
	}
}

func TestAccountStore_ReserveDebitRelease(t *testing.T) {
	ctx := context.Background()
	accounts := New("").Accounts()
	a := newAccount(100)
	require.NoError(t, accounts.Create(ctx, a))
	assert.Equal(t, int64(1), a.ID)

	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	res := model.Reservation{
		AccountID:       a.ID,
		ExpectedVersion: a.Version,
		OrderNo:         "PP-1",
		At:              at,
		LeaseUntil:      at.Add(time.Minute),
	}
	ok, err := accounts.TryReserve(ctx, res)
	require.NoError(t, err)
	require.True(t, ok)

	// 同一个版本号只能成功一次
	ok, err = accounts.TryReserve(ctx, res)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsHeld(at))

	ok, err = accounts.TryDebit(ctx, model.Debit{
		AccountID:       a.ID,
		ExpectedVersion: got.Version,
		OrderNo:         "PP-1",
		Amount:          decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = accounts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, model.AccountStatusDepleted, got.Status)
	assert.Empty(t, got.ReservedOrderNo)

	_, err = accounts.TryDebit(ctx, model.Debit{
		AccountID:       a.ID,
		ExpectedVersion: got.Version,
		OrderNo:         "PP-2",
		Amount:          decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	topped, err := accounts.TopUp(ctx, a.ID, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, model.AccountStatusActive, topped.Status)
}

func TestAccountStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	accounts := New("").Accounts()
	require.NoError(t, accounts.Create(ctx, newAccount(100)))

	got, err := accounts.GetByID(ctx, 1)
	require.NoError(t, err)
	got.Balance = decimal.Zero

	again, err := accounts.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(decimal.NewFromInt(100)))
}

func TestOrderStore_TransitionWritesOutbox(t *testing.T) {
	ctx := context.Background()
	store := New("proxypay.order.result")
	orders := store.Orders()

	order := &model.Order{OrderNo: "PP-1", RequestID: "req-1", Amount: decimal.NewFromInt(5), Status: model.OrderStatusPending}
	require.NoError(t, orders.Create(ctx, order))
	assert.ErrorIs(t, orders.Create(ctx, &model.Order{OrderNo: "PP-2", RequestID: "req-1"}), repository.ErrDuplicateRequest)

	accountID := int64(1)
	require.NoError(t, orders.Transition(ctx, "PP-1", model.OrderStatusPending, model.OrderStatusAllocated, model.OrderChange{ProxyAccountID: &accountID}))
	assert.Empty(t, store.Outbox().All())

	assert.ErrorIs(t, orders.Transition(ctx, "PP-1", model.OrderStatusPending, model.OrderStatusFailed, model.OrderChange{}), repository.ErrOrderStatusInvalid)

	require.NoError(t, orders.Transition(ctx, "PP-1", model.OrderStatusAllocated, model.OrderStatusFailed, model.OrderChange{FailReason: "通道拒绝"}))
	msgs := store.Outbox().All()
	require.Len(t, msgs, 1)
	assert.Equal(t, "PP-1", msgs[0].MessageKey)
	assert.Contains(t, msgs[0].Payload, "通道拒绝")

	pending, err := store.Outbox().ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, store.Outbox().MarkSent(ctx, pending[0].ID))

	pending, err = store.Outbox().ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConfigStore_PutDefaultOnce(t *testing.T) {
	ctx := context.Background()
	configs := New("").Configs()

	_, err := configs.Get(ctx)
	assert.ErrorIs(t, err, repository.ErrConfigNotFound)

	first, err := configs.PutDefault(ctx, model.DefaultRoutingConfig())
	require.NoError(t, err)

	manual := model.FailoverManual
	_, err = configs.Update(ctx, model.RoutingConfigPatch{FailoverStrategy: &manual})
	require.NoError(t, err)

	second, err := configs.PutDefault(ctx, model.DefaultRoutingConfig())
	require.NoError(t, err)
	assert.Equal(t, first.Strategy, second.Strategy)
	assert.Equal(t, model.FailoverManual, second.FailoverStrategy)
}
