package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"treasury/internal/authz"
	"treasury/internal/model"
	"treasury/internal/repository"
)

// AuditService 特权操作审计
//
// 在业务事务提交之后写入，失败只记日志，不影响已经成功的资金变更。
type AuditService struct {
	repo *repository.AuditRepository
	now  func() time.Time
}

func NewAuditService(d Deps) *AuditService {
	return &AuditService{
		repo: repository.NewAuditRepository(d.DB),
		now:  d.now,
	}
}

// Record 追加一条审计记录，details 以 JSON 保存
func (s *AuditService) Record(ctx context.Context, actorID int64, action, targetID string, details interface{}) {
	body := ""
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			log.Printf("[AuditService] 序列化审计详情失败: action=%s, target=%s, err=%v", action, targetID, err)
		} else {
			body = string(raw)
		}
	}

	entry := &model.AuditLog{
		ActorID:   actorID,
		Action:    action,
		TargetID:  targetID,
		Details:   body,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		log.Printf("[AuditService] 写入审计失败: actor=%d, action=%s, target=%s, err=%v", actorID, action, targetID, err)
	}
}

// List 查询审计日志，需要 view_audit 权限
func (s *AuditService) List(ctx context.Context, actor authz.Actor, filter repository.AuditFilter, page repository.Page) ([]*model.AuditLog, int64, error) {
	if err := authz.Authorize(actor, authz.CapViewAudit); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, filter, page)
}
