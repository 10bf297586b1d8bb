// Package authz 角色与权限的唯一判定点
package authz

import (
	"treasury/pkg/errs"
)

type Role string

const (
	RoleSystemAdmin     Role = "system_admin"
	RoleEnterpriseAdmin Role = "enterprise_admin"
	RoleFinanceManager  Role = "finance_manager"
	RoleTreasurer       Role = "treasurer"
	RoleMember          Role = "member"
	RoleViewer          Role = "viewer"
)

type Capability string

const (
	CapApprove        Capability = "approve"
	CapManageSettings Capability = "manage_settings"
	CapViewAudit      Capability = "view_audit"
	CapTransact       Capability = "transact"
)

var grants = map[Role][]Capability{
	RoleSystemAdmin:     {CapApprove, CapManageSettings, CapViewAudit, CapTransact},
	RoleEnterpriseAdmin: {CapApprove, CapManageSettings, CapViewAudit, CapTransact},
	RoleFinanceManager:  {CapApprove, CapViewAudit, CapTransact},
	RoleTreasurer:       {CapTransact},
	RoleMember:          {CapTransact},
	RoleViewer:          {},
}

// ParseRole 未知角色返回 false
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := grants[r]
	return r, ok
}

func (r Role) Can(c Capability) bool {
	for _, granted := range grants[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// Actor 由认证层提供的已验证身份
type Actor struct {
	AccountID int64
	Role      Role
}

// System 后台任务与支付通道回调使用的身份
func System() Actor {
	return Actor{AccountID: 0, Role: RoleSystemAdmin}
}

// Authorize 校验 actor 是否具备 capability
func Authorize(actor Actor, c Capability) error {
	if !actor.Role.Can(c) {
		return errs.Wrap(errs.ErrNotAuthorized, "role=%s, capability=%s", actor.Role, c)
	}
	return nil
}

// AuthorizeAccount 在 capability 之外要求 actor 就是目标账户，或是系统管理员
func AuthorizeAccount(actor Actor, c Capability, accountID int64) error {
	if err := Authorize(actor, c); err != nil {
		return err
	}
	if actor.Role != RoleSystemAdmin && actor.AccountID != accountID {
		return errs.Wrap(errs.ErrNotAuthorized, "actor=%d 不能操作账户 %d", actor.AccountID, accountID)
	}
	return nil
}
