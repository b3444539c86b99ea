package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/todo-gateway/pkg/auth"
)

// TokenVerifier はBearerトークンを検証するインターフェース。
// 通常は*auth.Verifierを渡し、テストではフェイクに差し替える。
type TokenVerifier interface {
	Verify(ctx context.Context, token, expectedIssuer, expectedAudience string) (*auth.VerifiedToken, error)
}

// contextKeyVerifiedToken はGinコンテキストに検証済みトークンを格納するキー。
const contextKeyVerifiedToken = "verified_token"

// unauthorizedMessage は401レスポンスの本文。失敗の種別はクライアントに返さない。
const unauthorizedMessage = "invalid or missing token"

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、リクエストのcontext.ContextとGinコンテキストの両方に
// *auth.VerifiedToken を設定する。失敗した場合は401を返し、後続のハンドラは実行しない。
func JWTAuth(verifier TokenVerifier, issuer, audience string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, err, false)
			return
		}

		verified, err := verifier.Verify(c.Request.Context(), tokenString, issuer, audience)
		if err != nil {
			abortUnauthorized(c, err, true)
			return
		}

		c.Request = c.Request.WithContext(auth.NewContext(c.Request.Context(), verified))
		c.Set(contextKeyVerifiedToken, verified)
		c.Next()
	}
}

// extractBearerToken はAuthorizationヘッダーの値からトークンを取り出す。
// スキーム名の大文字小文字は区別しない。
func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", &auth.Error{Kind: auth.KindMissingToken, Err: errors.New("Authorizationヘッダーがありません")}
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", &auth.Error{Kind: auth.KindMissingToken, Err: errors.New("Bearer トークン形式が不正です")}
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", &auth.Error{Kind: auth.KindMissingToken, Err: errors.New("トークンが空です")}
	}
	return token, nil
}

// abortUnauthorized は失敗の種別をログに出力して401を返す。
func abortUnauthorized(c *gin.Context, err error, tokenPresented bool) {
	kind := auth.KindOf(err)
	if kind == "" {
		kind = auth.KindMalformedToken
	}
	zap.L().Warn("トークン検証に失敗",
		zap.String("kind", string(kind)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)

	challenge := `Bearer realm="api"`
	if tokenPresented {
		challenge += `, error="invalid_token"`
	}
	c.Header("WWW-Authenticate", challenge)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": unauthorizedMessage,
	})
}

// GetVerifiedToken はGinコンテキストから検証済みトークンを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetVerifiedToken(c *gin.Context) (*auth.VerifiedToken, bool) {
	if v, ok := c.Get(contextKeyVerifiedToken); ok {
		if token, ok := v.(*auth.VerifiedToken); ok && token != nil {
			return token, true
		}
	}
	return auth.FromContext(c.Request.Context())
}

// GetUserID はGinコンテキストから認証済みユーザーの識別子（sub）を取得する。
// 未認証の場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	token, ok := GetVerifiedToken(c)
	if !ok || token.Claims == nil {
		return ""
	}
	return token.Claims.Subject
}
