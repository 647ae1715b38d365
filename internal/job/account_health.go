package job

import (
	"context"
	"sync"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/service"

	"go.uber.org/zap"
)

// AccountChecker 由 service.AccountService 实现
type AccountChecker interface {
	ListAccounts(ctx context.Context) ([]model.ProxyAccount, error)
	TestLogin(ctx context.Context, id int64) (*service.LoginResult, error)
}

// AccountHealthJob 定期对停用的账户重新做登录校验，通过的账户自动恢复
type AccountHealthJob struct {
	accounts AccountChecker
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration
}

func NewAccountHealthJob(accounts AccountChecker, interval time.Duration, logger *zap.Logger) *AccountHealthJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHealthJob{
		accounts: accounts,
		logger:   logger.With(zap.String("job", "account_health")),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *AccountHealthJob) Start(ctx context.Context) {
	runLoop(ctx, "AccountHealthJob", j.interval, j.stopCh, j.logger, j.checkInactiveAccounts)
}

func (j *AccountHealthJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *AccountHealthJob) checkInactiveAccounts(ctx context.Context) {
	accounts, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		j.logger.Error("查询代理账户失败", zap.Error(err))
		return
	}

	recovered := 0
	for _, a := range accounts {
		if a.Status != model.AccountStatusInactive {
			continue
		}
		if _, err := j.accounts.TestLogin(ctx, a.ID); err != nil {
			j.logger.Debug("账户仍不可用", zap.Int64("account_id", a.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		j.logger.Info("停用账户已恢复", zap.Int("count", recovered))
	}
}
