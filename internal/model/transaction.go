package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDebit = "DEBIT" // 出款成功后扣减代理账户余额
	TransactionTypeTopUp = "TOPUP" // 后台给代理账户补充余额
)

// AccountTransaction 代理账户流水表
//
// 只追加，不修改。补偿任务依据 DEBIT 流水判断一笔卡在 allocated 的订单是否已经扣款。
type AccountTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	ProxyAccountID int64           `gorm:"index;not null" json:"proxy_account_id"`
	OrderNo        string          `gorm:"type:varchar(64);index;not null;default:''" json:"order_no"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"` // 正数入账，负数出账
	Type           string          `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Remark         string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
