package auth

import (
	"errors"
	"fmt"
)

// Kind は認証・認可エラーの種別を表す。
// ミドルウェアはKindによってレスポンスのステータスコードを決定する。
type Kind string

const (
	KindMissingToken         Kind = "missing_token"
	KindMalformedToken       Kind = "malformed_token"
	KindInvalidSignature     Kind = "invalid_signature"
	KindTokenExpired         Kind = "token_expired"
	KindTokenNotYetValid     Kind = "token_not_yet_valid"
	KindInvalidIssuer        Kind = "invalid_issuer"
	KindInvalidAudience      Kind = "invalid_audience"
	KindKeyNotFound          Kind = "key_not_found"
	KindKeySourceUnavailable Kind = "key_source_unavailable"
	KindInsufficientScope    Kind = "insufficient_scope"
	KindMisconfiguredRoute   Kind = "misconfigured_route"
)

// errors.Is での比較用のセンチネルエラー。
var (
	ErrMissingToken         = &Error{Kind: KindMissingToken}
	ErrMalformedToken       = &Error{Kind: KindMalformedToken}
	ErrInvalidSignature     = &Error{Kind: KindInvalidSignature}
	ErrTokenExpired         = &Error{Kind: KindTokenExpired}
	ErrTokenNotYetValid     = &Error{Kind: KindTokenNotYetValid}
	ErrInvalidIssuer        = &Error{Kind: KindInvalidIssuer}
	ErrInvalidAudience      = &Error{Kind: KindInvalidAudience}
	ErrKeyNotFound          = &Error{Kind: KindKeyNotFound}
	ErrKeySourceUnavailable = &Error{Kind: KindKeySourceUnavailable}
	ErrInsufficientScope    = &Error{Kind: KindInsufficientScope}
	ErrMisconfiguredRoute   = &Error{Kind: KindMisconfiguredRoute}
)

// Error は種別と原因エラーを保持する認証エラー。
// 原因エラーは内部ログ用であり、クライアントには返さない。
type Error struct {
	Kind Kind
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致する場合にtrueを返す。
// errors.Is(err, auth.ErrTokenExpired) の形で判定できる。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// newError は種別と原因エラーから*Errorを生成する。
func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf はエラーチェーンから種別を取り出す。
// *Errorが含まれない場合は空文字列を返す。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
