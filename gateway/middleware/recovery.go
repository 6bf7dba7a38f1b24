package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/gin-gonic/gin"
)

// Recovery 捕获 handler 中的 panic，记录堆栈并以统一错误格式返回 500
func Recovery(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.ErrorContext(c.Request.Context(), "panic recovered",
				clog.Any("panic", r),
				clog.String("route", c.FullPath()),
				clog.String("method", c.Request.Method),
				clog.String("username", c.GetString(UsernameKey)),
				clog.String("stack", string(debug.Stack())),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": apperr.PublicMessage(apperr.Internal(nil, "panic")),
				"code":  string(apperr.CodeInternal),
			})
		}()

		c.Next()
	}
}
