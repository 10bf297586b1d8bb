package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"treasury/internal/authz"
	"treasury/internal/config"
	"treasury/internal/infrastructure/cache"
	"treasury/internal/model"
	"treasury/internal/repository"
	"treasury/pkg/errs"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// SettingsProvider 读取企业资金策略，Redis 缓存 + 数据库兜底 + 配置默认值
type SettingsProvider struct {
	repo        *repository.SettingsRepository
	accountRepo *repository.AccountRepository
	redis       *redis.Client
	ttl         time.Duration
	defaults    config.TreasuryConfig
	audit       *AuditService
}

func NewSettingsProvider(d Deps, audit *AuditService) *SettingsProvider {
	return &SettingsProvider{
		repo:        repository.NewSettingsRepository(d.DB),
		accountRepo: repository.NewAccountRepository(d.DB),
		redis:       d.Redis,
		ttl:         d.Config.Treasury.SettingsCacheTTL,
		defaults:    d.Config.Treasury,
		audit:       audit,
	}
}

// Get 返回企业的资金策略，未配置时使用默认策略
func (p *SettingsProvider) Get(ctx context.Context, companyID int64) (*model.TreasurySettings, error) {
	if cached := p.fromCache(ctx, companyID); cached != nil {
		return cached, nil
	}

	settings, err := p.repo.GetByAccountID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = p.defaultSettings(companyID)
	}

	p.toCache(ctx, settings)
	return settings, nil
}

func (p *SettingsProvider) defaultSettings(companyID int64) *model.TreasurySettings {
	return &model.TreasurySettings{
		AccountID:          companyID,
		ApprovalThreshold:  config.Decimal(p.defaults.DefaultThreshold),
		RiskFlagThreshold:  decimal.Zero,
		AutoApprovalLimit:  decimal.Zero,
		ApprovalWorkflow:   p.defaults.DefaultApprovalFlow,
		RejectionsRequired: 1,
	}
}

// SettingsInput 更新资金策略的请求
type SettingsInput struct {
	ApprovalThreshold   decimal.Decimal `json:"approval_threshold"`
	RiskFlagThreshold   decimal.Decimal `json:"risk_flag_threshold"`
	AutoApprovalEnabled bool            `json:"auto_approval_enabled"`
	AutoApprovalLimit   decimal.Decimal `json:"auto_approval_limit"`
	ApprovalWorkflow    string          `json:"approval_workflow" binding:"required,oneof=single dual committee"`
	CustomSteps         int             `json:"custom_steps" binding:"gte=0,lte=10"`
	RejectionsRequired  int             `json:"rejections_required" binding:"gte=0,lte=10"`
}

// Update 覆盖企业资金策略并使缓存失效
func (p *SettingsProvider) Update(ctx context.Context, actor authz.Actor, companyID int64, in *SettingsInput) (*model.TreasurySettings, error) {
	if err := authz.Authorize(actor, authz.CapManageSettings); err != nil {
		return nil, err
	}
	if actor.Role != authz.RoleSystemAdmin {
		account, err := p.accountRepo.GetByID(ctx, nil, actor.AccountID)
		if err != nil {
			return nil, err
		}
		if account.CompanyID() != companyID {
			return nil, errs.Wrap(errs.ErrNotAuthorized, "actor=%d 不属于企业 %d", actor.AccountID, companyID)
		}
	}

	switch in.ApprovalWorkflow {
	case model.ApprovalFlowSingle, model.ApprovalFlowDual, model.ApprovalFlowCommittee:
	default:
		return nil, errs.Wrap(errs.ErrInvalidRequest, "approval_workflow=%s", in.ApprovalWorkflow)
	}
	if in.ApprovalThreshold.IsNegative() || in.RiskFlagThreshold.IsNegative() || in.AutoApprovalLimit.IsNegative() {
		return nil, errs.Wrap(errs.ErrInvalidAmount, "阈值不能为负数")
	}

	settings := &model.TreasurySettings{
		AccountID:           companyID,
		ApprovalThreshold:   in.ApprovalThreshold,
		RiskFlagThreshold:   in.RiskFlagThreshold,
		AutoApprovalEnabled: in.AutoApprovalEnabled,
		AutoApprovalLimit:   in.AutoApprovalLimit,
		ApprovalWorkflow:    in.ApprovalWorkflow,
		CustomSteps:         in.CustomSteps,
		RejectionsRequired:  in.RejectionsRequired,
	}
	if settings.RejectionsRequired == 0 {
		settings.RejectionsRequired = 1
	}
	if err := p.repo.Upsert(ctx, settings); err != nil {
		return nil, err
	}
	p.invalidate(ctx, companyID)

	p.audit.Record(ctx, actor.AccountID, model.AuditSettingsUpdated, idString(companyID), settings)
	log.Printf("[SettingsProvider] 资金策略已更新: company=%d, workflow=%s, threshold=%s",
		companyID, settings.ApprovalWorkflow, settings.ApprovalThreshold)
	return settings, nil
}

func (p *SettingsProvider) fromCache(ctx context.Context, companyID int64) *model.TreasurySettings {
	if p.redis == nil {
		return nil
	}
	raw, err := p.redis.Get(ctx, cache.SettingsKey(companyID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[SettingsProvider] 读取缓存失败: company=%d, err=%v", companyID, err)
		}
		return nil
	}
	var settings model.TreasurySettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		log.Printf("[SettingsProvider] 缓存内容损坏: company=%d, err=%v", companyID, err)
		return nil
	}
	return &settings
}

func (p *SettingsProvider) toCache(ctx context.Context, settings *model.TreasurySettings) {
	if p.redis == nil {
		return
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := p.redis.Set(ctx, cache.SettingsKey(settings.AccountID), raw, p.ttl).Err(); err != nil {
		log.Printf("[SettingsProvider] 写入缓存失败: company=%d, err=%v", settings.AccountID, err)
	}
}

func (p *SettingsProvider) invalidate(ctx context.Context, companyID int64) {
	if p.redis == nil {
		return
	}
	if err := p.redis.Del(ctx, cache.SettingsKey(companyID)).Err(); err != nil {
		log.Printf("[SettingsProvider] 删除缓存失败: company=%d, err=%v", companyID, err)
	}
}
