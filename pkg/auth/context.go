package auth

import "context"

type verifiedTokenKey struct{}

// NewContext は検証済みトークンを格納したコンテキストを返す。
func NewContext(ctx context.Context, token *VerifiedToken) context.Context {
	return context.WithValue(ctx, verifiedTokenKey{}, token)
}

// FromContext はコンテキストから検証済みトークンを取得する。
func FromContext(ctx context.Context) (*VerifiedToken, bool) {
	if ctx == nil {
		return nil, false
	}
	token, ok := ctx.Value(verifiedTokenKey{}).(*VerifiedToken)
	if !ok || token == nil {
		return nil, false
	}
	return token, true
}
