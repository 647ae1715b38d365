package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusAllocated = "allocated"
	OrderStatusSuccess   = "success"
	OrderStatusFailed    = "failed"
)

// allocated -> allocated 是故障切换时换绑账户，或出款后先记下通道流水号
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusAllocated, OrderStatusFailed},
	OrderStatusAllocated: {OrderStatusAllocated, OrderStatusSuccess, OrderStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return status == OrderStatusSuccess || status == OrderStatusFailed
}

const (
	PaymentMethodAlipay = "alipay"
)

type Order struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo        string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	PaymentMethod  string          `gorm:"type:varchar(32);not null" json:"payment_method"`
	ProxyAccountID *int64          `gorm:"index" json:"proxy_account_id"`
	Status         string          `gorm:"type:varchar(16);index;not null" json:"status"`
	TransactionID  string          `gorm:"type:varchar(64);not null;default:''" json:"transaction_id,omitempty"`
	FailReason     string          `gorm:"type:varchar(256);not null;default:''" json:"fail_reason,omitempty"`
	Attempts       int             `gorm:"not null;default:0" json:"attempts"`
	SettledAt      *time.Time      `json:"settled_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "payment_order"
}

func (o *Order) IsTerminal() bool {
	return IsTerminalStatus(o.Status)
}

// OrderChange 状态流转时一并写入的字段
type OrderChange struct {
	ProxyAccountID *int64
	TransactionID  string
	FailReason     string
	Attempts       int
}

// OrderFilter 订单查询条件，零值字段表示不过滤
type OrderFilter struct {
	Status         string
	ProxyAccountID *int64
	StartDate      *time.Time
	EndDate        *time.Time
}

// Match 内存实现使用，与 SQL 条件保持一致
func (f OrderFilter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.ProxyAccountID != nil && (o.ProxyAccountID == nil || *o.ProxyAccountID != *f.ProxyAccountID) {
		return false
	}
	if f.StartDate != nil && o.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && o.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
