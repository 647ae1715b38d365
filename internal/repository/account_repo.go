package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxypay/internal/model"
	"proxypay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("代理账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) ListAccounts(ctx context.Context) ([]model.ProxyAccount, error) {
	var accounts []model.ProxyAccount
	err := r.db.WithContext(ctx).Order("priority ASC, id ASC").Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.ProxyAccount, error) {
	return r.getByID(r.db.WithContext(ctx), id)
}

func (r *AccountRepository) getByID(tx *gorm.DB, id int64) (*model.ProxyAccount, error) {
	var account model.ProxyAccount
	err := tx.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *model.ProxyAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// TryReserve 预留账户
//
// version 条件保证从快照到提交之间账户没有被任何人改过；
// last_used 条件保证 last_used 不会倒退。
func (r *AccountRepository) TryReserve(ctx context.Context, res model.Reservation) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ProxyAccount{}).
		Where("id = ? AND version = ? AND status = ? AND balance > 0 AND balance >= ?",
			res.AccountID, res.ExpectedVersion, model.AccountStatusActive, res.MinBalance).
		Where("(last_used IS NULL OR last_used <= ?)", res.At).
		Updates(map[string]interface{}{
			"last_used":         res.At,
			"reserved_order_no": res.OrderNo,
			"reserved_until":    res.LeaseUntil,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseReservation 只清除本订单持有的预留，余额和状态不动
func (r *AccountRepository) ReleaseReservation(ctx context.Context, accountID int64, orderNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.ProxyAccount{}).
		Where("id = ? AND reserved_order_no = ?", accountID, orderNo).
		Updates(map[string]interface{}{
			"reserved_order_no": "",
			"reserved_until":    nil,
			"version":           gorm.Expr("version + 1"),
		}).Error
}

// TryDebit 扣款并记录流水，同一个事务内完成
func (r *AccountRepository) TryDebit(ctx context.Context, debit model.Debit) (bool, error) {
	debited := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := r.getByID(tx, debit.AccountID)
		if err != nil {
			return err
		}
		if account.Version != debit.ExpectedVersion {
			return nil
		}
		if account.Balance.LessThan(debit.Amount) {
			return ErrBalanceNotEnough
		}

		after := account.Balance.Sub(debit.Amount)
		updates := map[string]interface{}{
			"balance": after,
			"version": gorm.Expr("version + 1"),
		}
		if !after.IsPositive() {
			updates["status"] = model.AccountStatusDepleted
		}
		if account.ReservedOrderNo == debit.OrderNo {
			updates["reserved_order_no"] = ""
			updates["reserved_until"] = nil
		}

		result := tx.Model(&model.ProxyAccount{}).
			Where("id = ? AND version = ? AND balance >= ?", debit.AccountID, debit.ExpectedVersion, debit.Amount).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		trans := &model.AccountTransaction{
			TransactionNo:  idgen.GenerateTransactionNo(),
			ProxyAccountID: debit.AccountID,
			OrderNo:        debit.OrderNo,
			Amount:         debit.Amount.Neg(),
			Type:           model.TransactionTypeDebit,
			BalanceBefore:  account.Balance,
			BalanceAfter:   after,
			Remark:         debit.Remark,
		}
		if err := tx.Create(trans).Error; err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		debited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return debited, nil
}

func (r *AccountRepository) SetStatus(ctx context.Context, id int64, status string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status": status,
	})
}

func (r *AccountRepository) MarkLoginVerified(ctx context.Context, id int64, at time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":     model.AccountStatusActive,
		"last_login": at,
	})
}

func (r *AccountRepository) Update(ctx context.Context, id int64, update model.AccountUpdate) (*model.ProxyAccount, error) {
	updates := map[string]interface{}{}
	if update.Username != nil {
		updates["username"] = *update.Username
	}
	if update.Password != nil {
		updates["password"] = *update.Password
	}
	if update.Platform != nil {
		updates["platform"] = *update.Platform
	}
	if update.Priority != nil {
		updates["priority"] = *update.Priority
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}

	if err := r.update(ctx, id, updates); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// TopUp 补充余额，耗尽的账户补足后恢复为 active
func (r *AccountRepository) TopUp(ctx context.Context, id int64, amount decimal.Decimal, remark string) (*model.ProxyAccount, error) {
	var updated *model.ProxyAccount

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := r.getByID(tx, id)
		if err != nil {
			return err
		}

		after := account.Balance.Add(amount)
		updates := map[string]interface{}{
			"balance": after,
			"version": gorm.Expr("version + 1"),
		}
		if account.Status == model.AccountStatusDepleted && after.IsPositive() {
			updates["status"] = model.AccountStatusActive
		}

		result := tx.Model(&model.ProxyAccount{}).
			Where("id = ? AND version = ?", id, account.Version).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOptimisticLock
		}

		trans := &model.AccountTransaction{
			TransactionNo:  idgen.GenerateTransactionNo(),
			ProxyAccountID: id,
			Amount:         amount,
			Type:           model.TransactionTypeTopUp,
			BalanceBefore:  account.Balance,
			BalanceAfter:   after,
			Remark:         remark,
		}
		if err := tx.Create(trans).Error; err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		updated, err = r.getByID(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *AccountRepository) update(ctx context.Context, id int64, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")

	result := r.db.WithContext(ctx).
		Model(&model.ProxyAccount{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
