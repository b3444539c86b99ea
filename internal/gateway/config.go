package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config はGatewayサービスの設定。環境変数から読み込む。
type Config struct {
	// Port はAPIサーバーのリッスンポート。
	Port string
	// Domain はIDプロバイダーのドメイン（例: "example.auth0.com"）。
	Domain string
	// Audience はトークンのaudに含まれるべき値。
	Audience string
	// Issuer はトークンのissと一致すべき値。未指定時は "https://<Domain>/"。
	Issuer string
	// JWKSURL は署名鍵セットの取得先。未指定時は "<Issuer>.well-known/jwks.json"。
	JWKSURL string
	// Algorithms は許可する署名アルゴリズム。
	Algorithms []string
	// Leeway は有効期限判定で許容する時刻のずれ。
	Leeway time.Duration
	// JWKSFetchTimeout は鍵セット取得1回あたりの最大時間。
	JWKSFetchTimeout time.Duration
	// JWKSCooldown は未知のkidによる再取得を抑止する期間。
	JWKSCooldown time.Duration
	// JWKSMaxAge は鍵セットキャッシュの有効期間。0は期限なし。
	JWKSMaxAge time.Duration
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// MetricsAddr はメトリクス用サーバーのアドレス。空の場合は起動しない。
	MetricsAddr string

	// 以下はスモーククライアント用。検証処理では使用しない。

	// Scope はクライアントクレデンシャルで要求するスコープ。
	Scope string
	// ClientID はクライアントクレデンシャルのクライアントID。
	ClientID string
	// ClientSecret はクライアントクレデンシャルのシークレット。
	ClientSecret string
	// APIBaseURL はスモーククライアントの呼び出し先。
	APIBaseURL string
}

// LoadConfig は環境変数から設定を読み込み、デフォルト値を補完して検証する。
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:           getEnvOr("PORT", "8080"),
		Domain:         os.Getenv("AUTH0_DOMAIN"),
		Audience:       os.Getenv("AUTH0_AUDIENCE"),
		Issuer:         os.Getenv("AUTH0_ISSUER"),
		JWKSURL:        os.Getenv("AUTH0_JWKS_URL"),
		Algorithms:     splitList(getEnvOr("JWT_ALGORITHMS", "RS256")),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		MetricsAddr:    getEnvOr("METRICS_ADDR", ":9090"),
		Scope:          os.Getenv("AUTH0_SCOPE"),
		ClientID:       os.Getenv("AUTH0_CLIENT_ID"),
		ClientSecret:   os.Getenv("AUTH0_CLIENT_SECRET"),
		APIBaseURL:     getEnvOr("API_BASE_URL", "http://localhost:8080"),
	}

	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{key: "JWT_LEEWAY", def: "0s", dest: &cfg.Leeway},
		{key: "JWKS_FETCH_TIMEOUT", def: "5s", dest: &cfg.JWKSFetchTimeout},
		{key: "JWKS_COOLDOWN", def: "30s", dest: &cfg.JWKSCooldown},
		{key: "JWKS_MAX_AGE", def: "0s", dest: &cfg.JWKSMaxAge},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnvOr(d.key, d.def))
		if err != nil {
			return Config{}, fmt.Errorf("環境変数 %s の解析に失敗: %w", d.key, err)
		}
		*d.dest = v
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize はドメインを正規化し、未指定のIssuerとJWKSURLを導出する。
func (c *Config) Normalize() {
	c.Domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(c.Domain), "https://"), "/")
	if c.Issuer == "" && c.Domain != "" {
		c.Issuer = "https://" + c.Domain + "/"
	}
	if c.JWKSURL == "" && c.Issuer != "" {
		c.JWKSURL = strings.TrimSuffix(c.Issuer, "/") + "/.well-known/jwks.json"
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"RS256"}
	}
}

// Validate はサーバー起動に必要な設定が揃っているかを検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Domain == "" {
		errs = append(errs, errors.New("AUTH0_DOMAIN が設定されていません"))
	}
	if c.Audience == "" {
		errs = append(errs, errors.New("AUTH0_AUDIENCE が設定されていません"))
	}
	if c.JWKSURL != "" {
		if u, err := url.Parse(c.JWKSURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("JWKS URL %q が不正です", c.JWKSURL))
		}
	}
	if c.Leeway < 0 || c.JWKSFetchTimeout <= 0 || c.JWKSCooldown < 0 || c.JWKSMaxAge < 0 {
		errs = append(errs, errors.New("時間の設定値が不正です"))
	}
	return errors.Join(errs...)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
