package response

import (
	"log"
	"net/http"

	"treasury/pkg/errs"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码，与 errs.Kind 一一对应
const (
	CodeInsufficientFunds  = 1001
	CodeAccountNotFound    = 1002
	CodeRecipientNotFound  = 1003
	CodeStakeNotFound      = 1004
	CodePaymentNotFound    = 1005
	CodeWorkflowNotFound   = 1006
	CodeWithdrawalNotFound = 1007
	CodeAlreadyReleased    = 1008
	CodeAlreadyTerminal    = 1009
	CodeNotMatured         = 1010
	CodeInvalidDuration    = 1011
	CodeInvalidAmount      = 1012
	CodeSelfPayment        = 1013
	CodeKYCRequired        = 1014
	CodeLimitExceeded      = 1015
	CodeDuplicateApproval  = 1016
	CodeConflict           = 1017
)

type Response struct {
	Code    int         `json:"code"`
	Kind    errs.Kind   `json:"kind,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type mapping struct {
	status int
	code   int
}

var kindMappings = map[errs.Kind]mapping{
	errs.KindInsufficientFunds:  {http.StatusUnprocessableEntity, CodeInsufficientFunds},
	errs.KindAccountNotFound:    {http.StatusNotFound, CodeAccountNotFound},
	errs.KindRecipientNotFound:  {http.StatusNotFound, CodeRecipientNotFound},
	errs.KindStakeNotFound:      {http.StatusNotFound, CodeStakeNotFound},
	errs.KindPaymentNotFound:    {http.StatusNotFound, CodePaymentNotFound},
	errs.KindWorkflowNotFound:   {http.StatusNotFound, CodeWorkflowNotFound},
	errs.KindWithdrawalNotFound: {http.StatusNotFound, CodeWithdrawalNotFound},
	errs.KindAlreadyReleased:    {http.StatusConflict, CodeAlreadyReleased},
	errs.KindAlreadyTerminal:    {http.StatusConflict, CodeAlreadyTerminal},
	errs.KindNotMatured:         {http.StatusConflict, CodeNotMatured},
	errs.KindInvalidDuration:    {http.StatusBadRequest, CodeInvalidDuration},
	errs.KindInvalidAmount:      {http.StatusBadRequest, CodeInvalidAmount},
	errs.KindInvalidRequest:     {http.StatusBadRequest, CodeParamError},
	errs.KindSelfPayment:        {http.StatusBadRequest, CodeSelfPayment},
	errs.KindNotAuthorized:      {http.StatusForbidden, CodeForbidden},
	errs.KindKYCRequired:        {http.StatusForbidden, CodeKYCRequired},
	errs.KindLimitExceeded:      {http.StatusUnprocessableEntity, CodeLimitExceeded},
	errs.KindDuplicateApproval:  {http.StatusConflict, CodeDuplicateApproval},
	errs.KindConflict:           {http.StatusConflict, CodeConflict},
}

// StatusOf 返回错误类别对应的 HTTP 状态码与业务码，未知类别按服务端错误处理
func StatusOf(kind errs.Kind) (int, int) {
	if m, ok := kindMappings[kind]; ok {
		return m.status, m.code
	}
	return http.StatusInternalServerError, CodeServerError
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FromError 把服务层错误翻译为响应；内部错误不向调用方暴露细节
func FromError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status, code := StatusOf(kind)

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] %s %s 内部错误: %v", c.Request.Method, c.Request.URL.Path, err)
		message = "服务器内部错误"
	}

	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Kind:    kind,
		Message: message,
	})
}
