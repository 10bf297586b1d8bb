package repository

import (
	"context"

	"treasury/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// CreateIfAbsent 以 reference_id 去重写入，返回是否为首次写入
func (r *DepositRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, deposit *model.Deposit) (bool, error) {
	result := dbOr(tx, r.db).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference_id"}},
			DoNothing: true,
		}).
		Create(deposit)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
