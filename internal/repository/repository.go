package repository

import (
	"context"
	"errors"
	"time"

	"treasury/internal/model"

	"gorm.io/gorm"
)

var (
	// ErrStatusInvalid 状态迁移不在状态机内，或记录已被其他事务迁移走
	ErrStatusInvalid = errors.New("状态迁移不合法")
	// ErrVersionConflict 乐观锁版本不匹配
	ErrVersionConflict = errors.New("乐观锁冲突，请重试")
)

func dbOr(tx, db *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}

// transit 以 UPDATE ... WHERE id = ? AND status = from 落实单向状态迁移
// RowsAffected 为 0 时返回 ErrStatusInvalid，调用方据此判断是否已被处理
func transit(ctx context.Context, tx *gorm.DB, entity interface{}, machine model.Transitions, id int64, from, to string, extra map[string]interface{}) error {
	if !machine.Can(from, to) {
		return ErrStatusInvalid
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(entity).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusInvalid
	}
	return nil
}

// Page 列表分页参数
type Page struct {
	Page     int
	PageSize int
}

func (p Page) normalize() (offset, limit int) {
	page, size := p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	return (page - 1) * size, size
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
