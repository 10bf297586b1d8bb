package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"treasury/internal/authz"
	"treasury/pkg/errs"
	"treasury/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAccountID = "X-Account-ID"
	HeaderRole      = "X-Role"

	actorKey = "treasury.actor"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				response.Error(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// ActorMiddleware 读取认证网关注入的账户与角色
//
// 身份由上游网关校验，这里只解析；缺失或角色未知时拒绝请求。
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, err := strconv.ParseInt(c.GetHeader(HeaderAccountID), 10, 64)
		if err != nil || accountID < 0 {
			response.Unauthorized(c, "缺少或非法的 "+HeaderAccountID)
			return
		}
		role, ok := authz.ParseRole(c.GetHeader(HeaderRole))
		if !ok {
			response.Unauthorized(c, "缺少或非法的 "+HeaderRole)
			return
		}

		c.Set(actorKey, authz.Actor{AccountID: accountID, Role: role})
		c.Next()
	}
}

func actorFrom(c *gin.Context) authz.Actor {
	if v, ok := c.Get(actorKey); ok {
		return v.(authz.Actor)
	}
	// 未经过 ActorMiddleware 的路由没有任何权限
	return authz.Actor{AccountID: -1}
}

func requireSystemAdmin(c *gin.Context) bool {
	if actorFrom(c).Role != authz.RoleSystemAdmin {
		response.FromError(c, errs.Wrap(errs.ErrNotAuthorized, "仅系统管理员可执行"))
		return false
	}
	return true
}
