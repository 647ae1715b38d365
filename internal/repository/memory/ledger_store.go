package memory

import (
	"context"

	"proxypay/internal/model"
)

type LedgerStore struct {
	s *Store
}

func (r *LedgerStore) GetDebitByOrderNo(ctx context.Context, orderNo string) (*model.AccountTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, t := range r.s.ledger {
		if t.OrderNo == orderNo && t.Type == model.TransactionTypeDebit {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (r *LedgerStore) ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*model.AccountTransaction, 0)
	for i := len(r.s.ledger) - 1; i >= 0; i-- {
		if r.s.ledger[i].ProxyAccountID == accountID {
			c := *r.s.ledger[i]
			matched = append(matched, &c)
		}
	}

	start, end := paginate(len(matched), page, pageSize)
	return matched[start:end], int64(len(matched)), nil
}
