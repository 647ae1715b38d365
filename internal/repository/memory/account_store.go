package memory

import (
	"context"
	"sort"
	"time"

	"proxypay/internal/model"
	"proxypay/internal/repository"
	"proxypay/pkg/idgen"

	"github.com/shopspring/decimal"
)

type AccountStore struct {
	s *Store
}

func cloneAccount(a *model.ProxyAccount) *model.ProxyAccount {
	c := *a
	c.LastUsed = copyTime(a.LastUsed)
	c.LastLogin = copyTime(a.LastLogin)
	c.ReservedUntil = copyTime(a.ReservedUntil)
	return &c
}

func (r *AccountStore) ListAccounts(ctx context.Context) ([]model.ProxyAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	accounts := make([]model.ProxyAccount, 0, len(r.s.accounts))
	for _, a := range r.s.accounts {
		accounts = append(accounts, *cloneAccount(a))
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Priority != accounts[j].Priority {
			return accounts[i].Priority < accounts[j].Priority
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

func (r *AccountStore) GetByID(ctx context.Context, id int64) (*model.ProxyAccount, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountStore) Create(ctx context.Context, account *model.ProxyAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if account.ID == 0 {
		r.s.nextAccountID++
		account.ID = r.s.nextAccountID
	} else if account.ID > r.s.nextAccountID {
		r.s.nextAccountID = account.ID
	}
	now := r.s.now()
	account.CreatedAt = now
	account.UpdatedAt = now
	r.s.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *AccountStore) TryReserve(ctx context.Context, res model.Reservation) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[res.AccountID]
	if !ok {
		return false, nil
	}
	if a.Version != res.ExpectedVersion ||
		a.Status != model.AccountStatusActive ||
		!a.Balance.IsPositive() ||
		a.Balance.LessThan(res.MinBalance) {
		return false, nil
	}
	if a.LastUsed != nil && a.LastUsed.After(res.At) {
		return false, nil
	}

	at := res.At
	until := res.LeaseUntil
	a.LastUsed = &at
	a.ReservedOrderNo = res.OrderNo
	a.ReservedUntil = &until
	r.touch(a)
	return true, nil
}

func (r *AccountStore) ReleaseReservation(ctx context.Context, accountID int64, orderNo string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[accountID]
	if !ok || a.ReservedOrderNo != orderNo {
		return nil
	}
	a.ReservedOrderNo = ""
	a.ReservedUntil = nil
	r.touch(a)
	return nil
}

func (r *AccountStore) TryDebit(ctx context.Context, debit model.Debit) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[debit.AccountID]
	if !ok {
		return false, repository.ErrAccountNotFound
	}
	if a.Version != debit.ExpectedVersion {
		return false, nil
	}
	if a.Balance.LessThan(debit.Amount) {
		return false, repository.ErrBalanceNotEnough
	}

	before := a.Balance
	a.Balance = a.Balance.Sub(debit.Amount)
	if !a.Balance.IsPositive() {
		a.Status = model.AccountStatusDepleted
	}
	if a.ReservedOrderNo == debit.OrderNo {
		a.ReservedOrderNo = ""
		a.ReservedUntil = nil
	}
	r.touch(a)

	r.s.ledger = append(r.s.ledger, &model.AccountTransaction{
		ID:             int64(len(r.s.ledger) + 1),
		TransactionNo:  idgen.GenerateTransactionNo(),
		ProxyAccountID: a.ID,
		OrderNo:        debit.OrderNo,
		Amount:         debit.Amount.Neg(),
		Type:           model.TransactionTypeDebit,
		BalanceBefore:  before,
		BalanceAfter:   a.Balance,
		Remark:         debit.Remark,
		CreatedAt:      r.s.now(),
	})
	return true, nil
}

func (r *AccountStore) SetStatus(ctx context.Context, id int64, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = status
	r.touch(a)
	return nil
}

func (r *AccountStore) MarkLoginVerified(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = model.AccountStatusActive
	a.LastLogin = &at
	r.touch(a)
	return nil
}

func (r *AccountStore) Update(ctx context.Context, id int64, update model.AccountUpdate) (*model.ProxyAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	if update.Username != nil {
		a.Username = *update.Username
	}
	if update.Password != nil {
		a.Password = *update.Password
	}
	if update.Platform != nil {
		a.Platform = *update.Platform
	}
	if update.Priority != nil {
		a.Priority = *update.Priority
	}
	if update.Status != nil {
		a.Status = *update.Status
	}
	r.touch(a)
	return cloneAccount(a), nil
}

func (r *AccountStore) TopUp(ctx context.Context, id int64, amount decimal.Decimal, remark string) (*model.ProxyAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}

	before := a.Balance
	a.Balance = a.Balance.Add(amount)
	if a.Status == model.AccountStatusDepleted && a.Balance.IsPositive() {
		a.Status = model.AccountStatusActive
	}
	r.touch(a)

	r.s.ledger = append(r.s.ledger, &model.AccountTransaction{
		ID:             int64(len(r.s.ledger) + 1),
		TransactionNo:  idgen.GenerateTransactionNo(),
		ProxyAccountID: a.ID,
		Amount:         amount,
		Type:           model.TransactionTypeTopUp,
		BalanceBefore:  before,
		BalanceAfter:   a.Balance,
		Remark:         remark,
		CreatedAt:      r.s.now(),
	})
	return cloneAccount(a), nil
}

// touch 调用方必须持有写锁
func (r *AccountStore) touch(a *model.ProxyAccount) {
	a.Version++
	a.UpdatedAt = r.s.now()
}
