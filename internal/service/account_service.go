package service

import (
	"context"
	"fmt"

	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"

	"github.com/shopspring/decimal"
)

type AccountService struct {
	accountRepo *repository.AccountRepository
	stakeRepo   *repository.StakeRepository
	txRepo      *repository.TransactionRepository
}

func NewAccountService(d Deps) *AccountService {
	return &AccountService{
		accountRepo: repository.NewAccountRepository(d.DB),
		stakeRepo:   repository.NewStakeRepository(d.DB),
		txRepo:      repository.NewTransactionRepository(d.DB),
	}
}

// CreateAccountRequest 注册企业或子账户
type CreateAccountRequest struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required,email"`
	Role            string `json:"role" binding:"required"`
	ParentAccountID *int64 `json:"parent_account_id"`
	IsEnterprise    bool   `json:"is_enterprise"`
}

func (s *AccountService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*model.Account, error) {
	if req.ParentAccountID != nil {
		if _, err := s.accountRepo.GetByID(ctx, nil, *req.ParentAccountID); err != nil {
			return nil, err
		}
	}
	account := &model.Account{
		Name:            req.Name,
		Email:           req.Email,
		Role:            req.Role,
		KYCStatus:       model.KYCStatusPending,
		ParentAccountID: req.ParentAccountID,
		IsEnterprise:    req.IsEnterprise,
	}
	if err := s.accountRepo.Create(ctx, nil, account); err != nil {
		return nil, fmt.Errorf("创建账户失败: %w", err)
	}
	return account, nil
}

// SetKYCStatus KYC 审核结果由外部审核流程回写
func (s *AccountService) SetKYCStatus(ctx context.Context, accountID int64, status string) error {
	switch status {
	case model.KYCStatusPending, model.KYCStatusApproved, model.KYCStatusRejected:
	default:
		return errs.Wrap(errs.ErrInvalidRequest, "kyc_status=%s", status)
	}
	return s.accountRepo.UpdateKYCStatus(ctx, accountID, status)
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, nil, accountID)
}

// BalanceView 余额视图：可用与锁定分开展示
type BalanceView struct {
	AccountID     int64           `json:"account_id"`
	StableBalance decimal.Decimal `json:"stable_balance"`
	TokenBalance  decimal.Decimal `json:"token_balance"`
	Locked        decimal.Decimal `json:"locked"`
	Available     decimal.Decimal `json:"available"`
	Staked        decimal.Decimal `json:"staked"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
}

func newBalanceView(a *model.Account) *BalanceView {
	return &BalanceView{
		AccountID:     a.ID,
		StableBalance: a.StableBalance,
		TokenBalance:  a.TokenBalance,
		Locked:        a.FrozenAmount,
		Available:     a.Available(model.BalanceToken),
		Staked:        decimal.Zero,
		TotalEarnings: a.TotalEarnings,
	}
}

func (v *BalanceView) add(o *BalanceView) {
	v.StableBalance = v.StableBalance.Add(o.StableBalance)
	v.TokenBalance = v.TokenBalance.Add(o.TokenBalance)
	v.Locked = v.Locked.Add(o.Locked)
	v.Available = v.Available.Add(o.Available)
	v.Staked = v.Staked.Add(o.Staked)
	v.TotalEarnings = v.TotalEarnings.Add(o.TotalEarnings)
}

// GetBalance 当前余额及可用/锁定拆分
func (s *AccountService) GetBalance(ctx context.Context, accountID int64) (*BalanceView, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	view := newBalanceView(account)

	stakes, err := s.stakeRepo.ListByAccount(ctx, accountID, model.StakeStatusActive)
	if err != nil {
		return nil, err
	}
	for _, st := range stakes {
		view.Staked = view.Staked.Add(st.Amount)
	}
	return view, nil
}

// ConsolidatedBalance 企业及其全部子账户的合并余额
func (s *AccountService) ConsolidatedBalance(ctx context.Context, companyID int64) (*BalanceView, error) {
	total, err := s.GetBalance(ctx, companyID)
	if err != nil {
		return nil, err
	}

	children, err := s.accountRepo.ListByParent(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		view, err := s.GetBalance(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		total.add(view)
	}
	return total, nil
}

// ListTransactions 账户流水
func (s *AccountService) ListTransactions(ctx context.Context, accountID int64, page repository.Page) ([]*model.AccountTransaction, int64, error) {
	return s.txRepo.ListByAccount(ctx, accountID, page)
}
