package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/todo-gateway/pkg/auth"
)

// ScopeDenialHook はスコープ不足でリクエストを拒否した際に呼ばれる。
type ScopeDenialHook func(scope string)

// RequireScope は指定スコープを必須とするGinミドルウェアを返す。
// JWTAuthの後に使用すること。複数並べた場合はすべてのスコープを要求する。
// 拒否した場合はauth.ErrInsufficientScopeまたはauth.ErrMisconfiguredRouteに一致するエラーをc.Errorsに積む。
func RequireScope(scope string, hooks ...ScopeDenialHook) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := GetVerifiedToken(c)
		if !ok || token.Claims == nil {
			// JWTAuthより前に置かれている。ルーティング設定の誤り
			err := &auth.Error{
				Kind: auth.KindMisconfiguredRoute,
				Err:  fmt.Errorf("RequireScope(%q) の前にJWTAuthが適用されていません", scope),
			}
			zap.L().Error("ルーティング設定の誤り",
				zap.String("path", c.FullPath()),
				zap.Error(err),
			)
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}

		if !token.Claims.HasScope(scope) {
			zap.L().Info("スコープ不足によりリクエストを拒否",
				zap.String("kind", string(auth.KindInsufficientScope)),
				zap.String("required", scope),
				zap.String("sub", token.Claims.Subject),
				zap.String("path", c.Request.URL.Path),
			)
			for _, hook := range hooks {
				hook(scope)
			}
			_ = c.Error(&auth.Error{
				Kind: auth.KindInsufficientScope,
				Err:  fmt.Errorf("スコープ %q が付与されていません", scope),
			})
			c.Header("WWW-Authenticate", fmt.Sprintf(`Bearer error="insufficient_scope", scope=%q`, scope))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient scope",
			})
			return
		}

		c.Next()
	}
}
