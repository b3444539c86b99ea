package auth

import (
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims は検証済みトークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// Scope はスペース区切りで付与されたスコープ。
	Scope string `json:"scope,omitempty"`
}

// Scopes はScopeを空白で分割したスコープ一覧を返す。
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope は指定スコープが付与されているかを判定する。
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// VerifiedToken は検証に成功したトークンの内容。
// 認証ミドルウェアがリクエストコンテキストに格納し、ハンドラは読み取り専用で扱う。
type VerifiedToken struct {
	// Claims はデコード済みのクレーム。
	Claims *Claims
	// Header はトークンのヘッダーパラメータ（alg, kid, typ 等）。
	Header map[string]any
	// Payload はデコードしたペイロード全体。
	// Claimsに無い独自クレームも含み、値はトークン上の形のまま保持する。
	Payload map[string]any
}

// KeyID はヘッダーのkidを返す。
func (v *VerifiedToken) KeyID() string {
	kid, _ := v.Header["kid"].(string)
	return kid
}
