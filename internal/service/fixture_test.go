package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"proxypay/internal/gateway"
	"proxypay/internal/model"
	"proxypay/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testTopic = "proxypay.order.result"

// fakeGateway 按账户脚本化的通道
type fakeGateway struct {
	mu        sync.Mutex
	decline   map[int64]bool
	loginFail map[int64]bool
	block     bool
	onCharge  func(account model.ProxyAccount)
	charges   []int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{decline: map[int64]bool{}, loginFail: map[int64]bool{}}
}

func (g *fakeGateway) Charge(ctx context.Context, account model.ProxyAccount, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	g.charges = append(g.charges, account.ID)
	n := len(g.charges)
	decline := g.decline[account.ID]
	block := g.block
	hook := g.onCharge
	g.mu.Unlock()

	if hook != nil {
		hook(account)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if decline {
		return "", gateway.ErrGatewayDeclined
	}
	return fmt.Sprintf("GW-%d-%d", account.ID, n), nil
}

func (g *fakeGateway) VerifyLogin(ctx context.Context, account model.ProxyAccount) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loginFail[account.ID] {
		return decimal.Zero, gateway.ErrLoginRejected
	}
	return decimal.NewFromInt(8888), nil
}

func (g *fakeGateway) chargedAccounts() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.charges...)
}

type fixture struct {
	store       *memory.Store
	accounts    *memory.AccountStore
	orders      *memory.OrderStore
	gateway     *fakeGateway
	engine      *AllocationEngine
	coordinator *SettlementCoordinator
}

type fixtureOption func(*AllocationOptions, *SettlementOptions)

func withSettlement(opts SettlementOptions) fixtureOption {
	return func(_ *AllocationOptions, s *SettlementOptions) { *s = opts }
}

// newFixture cfg 为 nil 时不写入配置，由引擎自行补默认值
func newFixture(t *testing.T, cfg *model.RoutingConfig, accounts []model.ProxyAccount, opts ...fixtureOption) *fixture {
	t.Helper()

	store := memory.New(testTopic)
	if cfg != nil {
		_, err := store.Configs().PutDefault(context.Background(), *cfg)
		require.NoError(t, err)
	}
	for i := range accounts {
		require.NoError(t, store.Accounts().Create(context.Background(), &accounts[i]))
	}

	allocOpts := AllocationOptions{ReservationTTL: time.Minute}
	settleOpts := SettlementOptions{GatewayTimeout: time.Second, MaxAttempts: 3, DebitRetries: 3}
	for _, opt := range opts {
		opt(&allocOpts, &settleOpts)
	}

	gw := newFakeGateway()
	engine := NewAllocationEngine(store.Accounts(), store.Configs(), allocOpts, nil, nil)
	coordinator := NewSettlementCoordinator(engine, store.Orders(), store.Accounts(), store.Ledger(), gw, nil, settleOpts, nil, nil)

	return &fixture{
		store:       store,
		accounts:    store.Accounts(),
		orders:      store.Orders(),
		gateway:     gw,
		engine:      engine,
		coordinator: coordinator,
	}
}

func (f *fixture) createOrder(t *testing.T, orderNo string, amount int64) *model.Order {
	t.Helper()
	order := &model.Order{
		OrderNo:       orderNo,
		RequestID:     "req-" + orderNo,
		Amount:        decimal.NewFromInt(amount),
		PaymentMethod: model.PaymentMethodAlipay,
		Status:        model.OrderStatusPending,
	}
	require.NoError(t, f.orders.Create(context.Background(), order))
	return order
}

func (f *fixture) account(t *testing.T, id int64) *model.ProxyAccount {
	t.Helper()
	a, err := f.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func activeAccount(id int64, priority int, balance int64) model.ProxyAccount {
	return model.ProxyAccount{
		ID:       id,
		Username: fmt.Sprintf("proxy-%d", id),
		Password: "secret",
		Platform: "alipay",
		Balance:  decimal.NewFromInt(balance),
		Status:   model.AccountStatusActive,
		Priority: priority,
	}
}

func routingConfig(strategy string, threshold int64, failover string) *model.RoutingConfig {
	return &model.RoutingConfig{
		ID:               model.RoutingConfigID,
		Strategy:         strategy,
		AmountThreshold:  decimal.NewFromInt(threshold),
		FailoverStrategy: failover,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
