package model

// Transitions 实体状态机：key 为当前状态，value 为允许迁移到的目标状态
// 所有终态迁移都是单向的，仓储层以 WHERE status = from 的条件更新落实
type Transitions map[string][]string

func (t Transitions) Can(from, to string) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal 没有任何出边的状态
func (t Transitions) Terminal(status string) bool {
	return len(t[status]) == 0
}

var StakeTransitions = Transitions{
	StakeStatusActive: {StakeStatusUnlocked},
}

var PaymentTransitions = Transitions{
	PaymentStatusAwaitingApproval: {PaymentStatusPending, PaymentStatusReleased, PaymentStatusRejected},
	PaymentStatusPending:          {PaymentStatusReleased},
}

var LockTransitions = Transitions{
	LockStatusLocked: {LockStatusConsumed},
}

var WorkflowTransitions = Transitions{
	WorkflowStatusPending: {WorkflowStatusApproved, WorkflowStatusRejected, WorkflowStatusExpired},
}

var WithdrawalTransitions = Transitions{
	WithdrawalStatusAwaitingApproval: {WithdrawalStatusProcessing, WithdrawalStatusRejected},
	WithdrawalStatusProcessing:       {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

var OutboxTransitions = Transitions{
	OutboxStatusPending: {OutboxStatusSent, OutboxStatusFailed},
}
