// Package memory 内存版存储，用于本地调试（database.driver = memory）和单元测试。
//
// 所有数据共用一把锁，但语义与 SQL 实现一致：写操作同样校验 version，
// 同样在终态时写出 outbox 消息。
package memory

import (
	"sync"
	"time"

	"proxypay/internal/model"
)

type Store struct {
	mu sync.RWMutex

	accounts      map[int64]*model.ProxyAccount
	nextAccountID int64

	config *model.RoutingConfig

	orders       map[string]*model.Order
	requestIndex map[string]string
	nextOrderID  int64

	ledger       []*model.AccountTransaction
	outbox       []*model.OutboxMessage
	nextOutboxID int64

	eventTopic string
	now        func() time.Time
}

func New(eventTopic string) *Store {
	return &Store{
		accounts:     make(map[int64]*model.ProxyAccount),
		orders:       make(map[string]*model.Order),
		requestIndex: make(map[string]string),
		eventTopic:   eventTopic,
		now:          time.Now,
	}
}

func (s *Store) Accounts() *AccountStore {
	return &AccountStore{s: s}
}

func (s *Store) Configs() *ConfigStore {
	return &ConfigStore{s: s}
}

func (s *Store) Orders() *OrderStore {
	return &OrderStore{s: s}
}

func (s *Store) Ledger() *LedgerStore {
	return &LedgerStore{s: s}
}

func (s *Store) Outbox() *OutboxStore {
	return &OutboxStore{s: s}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func paginate(total, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		return 0, 0
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}
