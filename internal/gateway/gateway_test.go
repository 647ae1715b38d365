package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"proxypay/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	chargeErr error
	loginErr  error
	charges   int
}

func (s *scripted) Charge(ctx context.Context, account model.ProxyAccount, amount decimal.Decimal) (string, error) {
	s.charges++
	if s.chargeErr != nil {
		return "", s.chargeErr
	}
	return "tx-1", nil
}

func (s *scripted) VerifyLogin(ctx context.Context, account model.ProxyAccount) (decimal.Decimal, error) {
	if s.loginErr != nil {
		return decimal.Zero, s.loginErr
	}
	return decimal.NewFromInt(42), nil
}

func TestSimulator_AlwaysApprove(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Seed: 1})

	txID, err := sim.Charge(context.Background(), model.ProxyAccount{ID: 1}, decimal.NewFromInt(10))

	require.NoError(t, err)
	assert.NotEmpty(t, txID)
}

func TestSimulator_AlwaysDecline(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{DeclineRatio: 1, Seed: 1})

	_, err := sim.Charge(context.Background(), model.ProxyAccount{ID: 1}, decimal.NewFromInt(10))

	assert.ErrorIs(t, err, ErrGatewayDeclined)
}

func TestSimulator_TimeoutMapsToGatewayTimeout(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Latency: time.Second, Seed: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sim.Charge(ctx, model.ProxyAccount{ID: 1}, decimal.NewFromInt(10))

	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestSimulator_VerifyLogin(t *testing.T) {
	ok := NewSimulator(SimulatorConfig{Seed: 1})
	balance, err := ok.VerifyLogin(context.Background(), model.ProxyAccount{ID: 1, Balance: decimal.NewFromInt(300)})
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(300)))

	failing := NewSimulator(SimulatorConfig{LoginFailRatio: 1, Seed: 1})
	_, err = failing.VerifyLogin(context.Background(), model.ProxyAccount{ID: 1})
	assert.ErrorIs(t, err, ErrLoginRejected)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &scripted{chargeErr: ErrGatewayDeclined}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)
	account := model.ProxyAccount{ID: 9}

	for i := 0; i < 2; i++ {
		_, err := b.Charge(context.Background(), account, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrGatewayDeclined)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State(9))

	_, err := b.Charge(context.Background(), account, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, next.charges)

	// 其他账户不受影响
	next.chargeErr = nil
	txID, err := b.Charge(context.Background(), model.ProxyAccount{ID: 10}, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txID)
}

func TestBreaker_SuccessfulLoginResetsBreaker(t *testing.T) {
	next := &scripted{chargeErr: errors.New("boom")}
	b := NewBreaker(next, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Hour}, nil)
	account := model.ProxyAccount{ID: 3}

	_, _ = b.Charge(context.Background(), account, decimal.NewFromInt(1))
	require.Equal(t, gobreaker.StateOpen, b.State(3))

	balance, err := b.VerifyLogin(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, gobreaker.StateClosed, b.State(3))
}
