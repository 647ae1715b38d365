package service

import (
	"context"
	"fmt"
	"time"

	"proxypay/internal/gateway"
	"proxypay/internal/model"
	"proxypay/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AccountService struct {
	accounts AccountStore
	ledger   LedgerStore
	verifier gateway.CredentialVerifier
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

func NewAccountService(accounts AccountStore, ledger LedgerStore, verifier gateway.CredentialVerifier, m *metrics.Collector, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		accounts: accounts,
		ledger:   ledger,
		verifier: verifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

type CreateAccountRequest struct {
	Username string          `json:"username" binding:"required"`
	Password string          `json:"password" binding:"required"`
	Platform string          `json:"platform" binding:"required"`
	Priority int             `json:"priority"`
	Balance  decimal.Decimal `json:"balance"`
}

type UpdateAccountRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Platform *string `json:"platform"`
	Priority *int    `json:"priority"`
	Status   *string `json:"status"`
}

type LoginResult struct {
	AccountID int64           `json:"account_id"`
	Status    string          `json:"status"`
	Balance   decimal.Decimal `json:"balance"` // 平台返回的余额，不回写本地
	LoginAt   time.Time       `json:"login_at"`
}

// CreateAccount 新账户初始为 inactive，需要 TestLogin 通过后才参与路由
func (s *AccountService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*model.ProxyAccount, error) {
	if req.Balance.IsNegative() {
		return nil, fmt.Errorf("%w: 余额不能为负", ErrInvalidParam)
	}
	account := &model.ProxyAccount{
		Username: req.Username,
		Password: req.Password,
		Platform: req.Platform,
		Priority: req.Priority,
		Balance:  req.Balance,
		Status:   model.AccountStatusInactive,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("创建代理账户失败: %w", err)
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id int64) (*model.ProxyAccount, error) {
	return s.accounts.GetByID(ctx, id)
}

// ListAccounts 按优先级排序
func (s *AccountService) ListAccounts(ctx context.Context) ([]model.ProxyAccount, error) {
	return s.accounts.ListAccounts(ctx)
}

func (s *AccountService) UpdateAccount(ctx context.Context, id int64, req *UpdateAccountRequest) (*model.ProxyAccount, error) {
	if req.Status != nil {
		if !model.IsValidAccountStatus(*req.Status) {
			return nil, fmt.Errorf("%w: 未知状态 %s", ErrInvalidParam, *req.Status)
		}
		if *req.Status == model.AccountStatusActive {
			current, err := s.accounts.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			// inactive 只能通过登录校验恢复
			if current.Status == model.AccountStatusInactive {
				return nil, fmt.Errorf("%w: 停用的账户需要通过登录校验启用", ErrInvalidParam)
			}
		}
	}

	return s.accounts.Update(ctx, id, model.AccountUpdate{
		Username: req.Username,
		Password: req.Password,
		Platform: req.Platform,
		Priority: req.Priority,
		Status:   req.Status,
	})
}

func (s *AccountService) Recharge(ctx context.Context, id int64, amount decimal.Decimal, remark string) (*model.ProxyAccount, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: 充值金额必须大于0", ErrInvalidParam)
	}
	account, err := s.accounts.TopUp(ctx, id, amount, remark)
	if err != nil {
		return nil, err
	}
	s.metrics.SetAccountBalance(account.ID, account.Balance.InexactFloat64())
	return account, nil
}

func (s *AccountService) ListTransactions(ctx context.Context, id int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.ledger.ListByAccount(ctx, id, page, pageSize)
}

// TestLogin 校验账户凭证
// 成功则置为 active 并记录登录时间；失败置为 inactive，返回 ErrLoginFailed
func (s *AccountService) TestLogin(ctx context.Context, id int64) (*LoginResult, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	balance, err := s.verifier.VerifyLogin(ctx, *account)
	if err != nil {
		if serr := s.accounts.SetStatus(context.WithoutCancel(ctx), id, model.AccountStatusInactive); serr != nil {
			s.logger.Error("停用代理账户失败", zap.Int64("account_id", id), zap.Error(serr))
		}
		s.logger.Warn("代理账户登录失败", zap.Int64("account_id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	now := s.now()
	if err := s.accounts.MarkLoginVerified(ctx, id, now); err != nil {
		return nil, fmt.Errorf("更新登录状态失败: %w", err)
	}
	s.metrics.SetAccountBalance(id, balance.InexactFloat64())
	s.logger.Info("代理账户登录成功", zap.Int64("account_id", id), zap.String("balance", balance.String()))

	return &LoginResult{
		AccountID: id,
		Status:    model.AccountStatusActive,
		Balance:   balance,
		LoginAt:   now,
	}, nil
}
