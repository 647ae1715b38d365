package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
	AccountStatusDepleted = "depleted"
)

// ProxyAccount 代理账户表
// 真正执行出款的第三方账户，多个请求并发竞争同一批账户
//
// 并发控制全部依赖 Version 乐观锁：任何写操作都带 version 条件并递增 version，
// 没有跨账户的全局锁。
type ProxyAccount struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string          `gorm:"type:varchar(128);not null" json:"username"`
	Password  string          `gorm:"type:varchar(256);not null" json:"-"` // 凭证引用，不返回
	Platform  string          `gorm:"type:varchar(64);not null" json:"platform"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	Status    string          `gorm:"type:varchar(16);index;not null" json:"status"`
	Priority  int             `gorm:"not null;default:0" json:"priority"` // 越小越优先
	LastUsed  *time.Time      `gorm:"index" json:"last_used"`
	LastLogin *time.Time      `json:"last_login"`

	// 预留占用：被某个订单预留且未过期的账户不参与其他订单的路由
	ReservedOrderNo string     `gorm:"type:varchar(64);not null;default:''" json:"reserved_order_no,omitempty"`
	ReservedUntil   *time.Time `json:"reserved_until,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProxyAccount) TableName() string {
	return "proxy_account"
}

// IsEligible 状态可用且有余额
func (a *ProxyAccount) IsEligible() bool {
	return a.Status == AccountStatusActive && a.Balance.IsPositive()
}

// IsHeld 是否被某个订单预留且租约未过期
func (a *ProxyAccount) IsHeld(now time.Time) bool {
	if a.ReservedOrderNo == "" || a.ReservedUntil == nil {
		return false
	}
	return a.ReservedUntil.After(now)
}

// LastUsedAt 从未使用过的账户返回零值，排序时最先被选中
func (a *ProxyAccount) LastUsedAt() time.Time {
	if a.LastUsed == nil {
		return time.Time{}
	}
	return *a.LastUsed
}

// Reservation 一次预留请求
// ExpectedVersion 必须等于快照中读到的版本，否则视为被并发请求抢走
type Reservation struct {
	AccountID       int64
	ExpectedVersion int64
	OrderNo         string
	MinBalance      decimal.Decimal
	At              time.Time
	LeaseUntil      time.Time
}

// Debit 一次扣款请求
type Debit struct {
	AccountID       int64
	ExpectedVersion int64
	OrderNo         string
	Amount          decimal.Decimal
	Remark          string
}

// AccountUpdate 后台修改代理账户，nil 字段不修改
type AccountUpdate struct {
	Username *string
	Password *string
	Platform *string
	Priority *int
	Status   *string
}

func IsValidAccountStatus(status string) bool {
	switch status {
	case AccountStatusActive, AccountStatusInactive, AccountStatusDepleted:
		return true
	}
	return false
}
