package auth

import (
	"bytes"
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAlgorithms は許可する署名アルゴリズムのデフォルト。
var DefaultAlgorithms = []string{"RS256"}

// asymmetricAlgorithms は公開鍵で検証できる署名アルゴリズム。
// HS系とnoneはアルゴリズム差し替え攻撃を防ぐため許可しない。
var asymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// KeyResolver は鍵IDから署名検証用の公開鍵を解決する。
// 通常はKeySetCacheを渡す。
type KeyResolver interface {
	SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// VerifierOption はVerifierの設定を変更する。
type VerifierOption func(*Verifier)

// WithAlgorithms は許可する署名アルゴリズムを設定する。
func WithAlgorithms(algs ...string) VerifierOption {
	return func(v *Verifier) {
		v.algorithms = append([]string(nil), algs...)
	}
}

// WithLeeway は有効期限の判定で許容する時刻のずれを設定する。
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = d
	}
}

// Verifier はBearerトークンの署名と標準クレームを検証する。
type Verifier struct {
	keys       KeyResolver
	algorithms []string
	leeway     time.Duration
	now        func() time.Time
}

// NewVerifier は新しいVerifierを生成する。
// 非対称鍵以外のアルゴリズムが指定された場合はエラーを返す。
func NewVerifier(keys KeyResolver, opts ...VerifierOption) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("鍵の解決先が指定されていません")
	}
	v := &Verifier{
		keys:       keys,
		algorithms: DefaultAlgorithms,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if len(v.algorithms) == 0 {
		return nil, errors.New("署名アルゴリズムが1つも指定されていません")
	}
	for _, alg := range v.algorithms {
		if !slices.Contains(asymmetricAlgorithms, alg) {
			return nil, fmt.Errorf("署名アルゴリズム %q は許可されていません", alg)
		}
	}
	if v.leeway < 0 {
		return nil, errors.New("leewayに負の値は指定できません")
	}
	return v, nil
}

// Verify はトークンを検証し、成功した場合はクレームとヘッダーを返す。
// 失敗時は種別を持つ*Errorを返す。
func (v *Verifier) Verify(ctx context.Context, tokenString, expectedIssuer, expectedAudience string) (*VerifiedToken, error) {
	if tokenString == "" {
		return nil, newError(KindMalformedToken, errors.New("トークンが空です"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.algorithms),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, newError(KindMalformedToken, errors.New("ヘッダーにkidがありません"))
		}
		return v.keys.SigningKey(ctx, kid)
	})
	if err != nil {
		return nil, v.classifyParseError(token, err)
	}

	if err := v.validateClaims(claims, expectedIssuer, expectedAudience); err != nil {
		return nil, err
	}

	payload, err := decodePayload(parser, tokenString)
	if err != nil {
		return nil, newError(KindMalformedToken, err)
	}

	return &VerifiedToken{
		Claims:  claims,
		Header:  maps.Clone(token.Header),
		Payload: payload,
	}, nil
}

// decodePayload は署名検証済みトークンのペイロードをそのままmapにデコードする。
// 数値はjson.Numberで保持し、再エンコード時に桁が変わらないようにする。
func decodePayload(parser *jwt.Parser, tokenString string) (map[string]any, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errors.New("トークンのセグメント数が不正です")
	}
	raw, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ペイロードのデコードに失敗: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	payload := map[string]any{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("ペイロードのJSONが不正です: %w", err)
	}
	return payload, nil
}

// validateClaims は exp, nbf, iss, aud の順にクレームを検証する。
func (v *Verifier) validateClaims(claims *Claims, expectedIssuer, expectedAudience string) error {
	now := v.now()

	if claims.ExpiresAt == nil {
		return newError(KindTokenExpired, errors.New("expクレームがありません"))
	}
	if !now.Before(claims.ExpiresAt.Add(v.leeway)) {
		return newError(KindTokenExpired, fmt.Errorf("有効期限切れ: exp=%s", claims.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	if claims.NotBefore != nil && now.Add(v.leeway).Before(claims.NotBefore.Time) {
		return newError(KindTokenNotYetValid, fmt.Errorf("有効期間前: nbf=%s", claims.NotBefore.UTC().Format(time.RFC3339)))
	}
	if claims.Issuer != expectedIssuer {
		return newError(KindInvalidIssuer, fmt.Errorf("iss=%q, want %q", claims.Issuer, expectedIssuer))
	}
	if !slices.Contains(claims.Audience, expectedAudience) {
		return newError(KindInvalidAudience, fmt.Errorf("aud=%v に %q が含まれません", []string(claims.Audience), expectedAudience))
	}
	return nil
}

// classifyParseError はjwtパーサーのエラーを認証エラーの種別に変換する。
// tokenはヘッダーを解析できなかった場合nilになる。
func (v *Verifier) classifyParseError(token *jwt.Token, err error) error {
	var authErr *Error
	switch {
	case errors.As(err, &authErr):
		// keyfuncから返した鍵解決エラー
		return authErr
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return newError(KindInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newError(KindMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable) && v.disallowedAlgorithm(token):
		// ES256Kのようにライブラリが知らないalgは許可リスト外のalgと同じ扱い
		return newError(KindInvalidSignature, err)
	default:
		// algの欠落はErrTokenUnverifiableになる
		return newError(KindMalformedToken, err)
	}
}

// disallowedAlgorithm はヘッダーにalgがあり、かつ許可リストに無いかを判定する。
func (v *Verifier) disallowedAlgorithm(token *jwt.Token) bool {
	if token == nil {
		return false
	}
	alg, _ := token.Header["alg"].(string)
	return alg != "" && !slices.Contains(v.algorithms, alg)
}
