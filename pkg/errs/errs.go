package errs

import (
	"errors"
	"fmt"
)

// Kind 错误类别，与具体语言/框架无关，调用方据此决定是否重试以及如何展示
type Kind string

const (
	KindInsufficientFunds  Kind = "INSUFFICIENT_FUNDS"
	KindAccountNotFound    Kind = "ACCOUNT_NOT_FOUND"
	KindRecipientNotFound  Kind = "RECIPIENT_NOT_FOUND"
	KindStakeNotFound      Kind = "STAKE_NOT_FOUND"
	KindPaymentNotFound    Kind = "PAYMENT_NOT_FOUND"
	KindWorkflowNotFound   Kind = "WORKFLOW_NOT_FOUND"
	KindWithdrawalNotFound Kind = "WITHDRAWAL_NOT_FOUND"
	KindAlreadyReleased    Kind = "ALREADY_RELEASED"
	KindAlreadyTerminal    Kind = "ALREADY_TERMINAL"
	KindNotMatured         Kind = "NOT_MATURED"
	KindInvalidDuration    Kind = "INVALID_DURATION"
	KindInvalidAmount      Kind = "INVALID_AMOUNT"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindSelfPayment        Kind = "SELF_PAYMENT_NOT_ALLOWED"
	KindNotAuthorized      Kind = "NOT_AUTHORIZED"
	KindKYCRequired        Kind = "KYC_REQUIRED"
	KindLimitExceeded      Kind = "LIMIT_EXCEEDED"
	KindDuplicateApproval  Kind = "DUPLICATE_APPROVAL"
	KindConflict           Kind = "CONFLICT"
	KindInternal           Kind = "INTERNAL"
)

// Error 带类别的业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别比较，使 errors.Is(err, errs.ErrNotMatured) 对包装后的错误同样成立
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Wrap 在保留类别的前提下补充上下文
func Wrap(base *Error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    base.Kind,
		Message: base.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// WithCause 保留类别并挂上底层错误
func WithCause(base *Error, cause error) *Error {
	return &Error{Kind: base.Kind, Message: base.Message, Err: cause}
}

// KindOf 提取错误类别，非业务错误返回 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind 判断错误是否属于指定类别
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrInsufficientFunds  = New(KindInsufficientFunds, "可用余额不足")
	ErrAccountNotFound    = New(KindAccountNotFound, "账户不存在")
	ErrRecipientNotFound  = New(KindRecipientNotFound, "收款账户不存在")
	ErrStakeNotFound      = New(KindStakeNotFound, "质押记录不存在")
	ErrPaymentNotFound    = New(KindPaymentNotFound, "付款记录不存在")
	ErrWorkflowNotFound   = New(KindWorkflowNotFound, "审批流程不存在")
	ErrWithdrawalNotFound = New(KindWithdrawalNotFound, "提现记录不存在")
	ErrAlreadyReleased    = New(KindAlreadyReleased, "已释放，请勿重复操作")
	ErrAlreadyTerminal    = New(KindAlreadyTerminal, "流程已结束")
	ErrNotMatured         = New(KindNotMatured, "锁定期未到")
	ErrInvalidDuration    = New(KindInvalidDuration, "期限不合法")
	ErrInvalidAmount      = New(KindInvalidAmount, "金额必须大于0")
	ErrInvalidRequest     = New(KindInvalidRequest, "请求参数错误")
	ErrSelfPayment        = New(KindSelfPayment, "不能向自己付款")
	ErrNotAuthorized      = New(KindNotAuthorized, "无权执行该操作")
	ErrKYCRequired        = New(KindKYCRequired, "需要先完成KYC认证")
	ErrLimitExceeded      = New(KindLimitExceeded, "超出限额")
	ErrDuplicateApproval  = New(KindDuplicateApproval, "已对该流程做出过决定")
	ErrConflict           = New(KindConflict, "并发冲突，请重试")
)
