package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"proxypay/internal/model"
	"proxypay/pkg/idgen"

	"github.com/shopspring/decimal"
)

type SimulatorConfig struct {
	Latency         time.Duration
	DeclineRatio    float64 // 0 ~ 1
	LoginFailRatio  float64 // 0 ~ 1
	ReportedBalance decimal.Decimal
	Seed            int64
}

// Simulator 模拟通道：按比例随机拒绝，带固定延迟
type Simulator struct {
	cfg SimulatorConfig
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg: cfg,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Charge(ctx context.Context, account model.ProxyAccount, amount decimal.Decimal) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if s.roll() < s.cfg.DeclineRatio {
		return "", fmt.Errorf("%w: account=%d amount=%s", ErrGatewayDeclined, account.ID, amount)
	}
	return idgen.GenerateGatewayTxID(), nil
}

func (s *Simulator) VerifyLogin(ctx context.Context, account model.ProxyAccount) (decimal.Decimal, error) {
	if err := s.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	if s.roll() < s.cfg.LoginFailRatio {
		return decimal.Zero, fmt.Errorf("%w: %s@%s", ErrLoginRejected, account.Username, account.Platform)
	}
	if s.cfg.ReportedBalance.IsZero() {
		return account.Balance, nil
	}
	return s.cfg.ReportedBalance, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.cfg.Latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %v", ErrGatewayTimeout, ctx.Err())
		}
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Simulator) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}
