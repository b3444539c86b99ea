package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultCooldown     = 30 * time.Second
)

// KeySource は署名鍵セットの取得元を抽象化するインターフェース。
// テスト時やメトリクス計測時に差し替え可能。
type KeySource interface {
	// FetchKeys は鍵IDから公開鍵へのマップを返す。
	FetchKeys(ctx context.Context) (map[string]crypto.PublicKey, error)
}

// HTTPKeySource はJWKSエンドポイントからHTTP GETで鍵セットを取得する。
type HTTPKeySource struct {
	url    string
	client *http.Client
}

// NewHTTPKeySource はHTTPKeySourceを生成する。
// clientがnilの場合はタイムアウト付きのクライアントを使用する。
func NewHTTPKeySource(jwksURL string, client *http.Client) *HTTPKeySource {
	if client == nil {
		client = &http.Client{
			Timeout: defaultFetchTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
	}
	return &HTTPKeySource{url: jwksURL, client: client}
}

// FetchKeys はJWKSドキュメントを取得して署名検証用の公開鍵を取り出す。
func (s *HTTPKeySource) FetchKeys(ctx context.Context) (map[string]crypto.PublicKey, error) {
	set, err := jwk.Fetch(ctx, s.url, jwk.WithHTTPClient(s.client))
	if err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗: %w", err)
	}
	return PublicKeys(set)
}

// PublicKeys はjwk.Setから鍵IDごとの公開鍵を取り出す。
// 暗号化用の鍵、共通鍵、kidの無い鍵は除外する。
func PublicKeys(set jwk.Set) (map[string]crypto.PublicKey, error) {
	keys := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := key.KeyID()
		if kid == "" || key.KeyType() == jwa.OctetSeq || key.KeyUsage() == string(jwk.ForEncryption) {
			continue
		}

		pub, err := key.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("kid=%q の公開鍵の取り出しに失敗: %w", kid, err)
		}
		var raw any
		if err := pub.Raw(&raw); err != nil {
			return nil, fmt.Errorf("kid=%q の鍵の変換に失敗: %w", kid, err)
		}
		keys[kid] = raw
	}

	if len(keys) == 0 {
		return nil, errors.New("JWKSに署名検証に使える鍵がありません")
	}
	return keys, nil
}

// CacheOption はKeySetCacheの設定を変更する。
type CacheOption func(*KeySetCache)

// WithFetchTimeout は1回の鍵セット取得にかける最大時間を設定する。
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *KeySetCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithCooldown は未知のkidによる再取得を抑止する期間を設定する。
// 0を指定すると未知のkidごとに毎回再取得する。
func WithCooldown(d time.Duration) CacheOption {
	return func(c *KeySetCache) {
		if d >= 0 {
			c.cooldown = d
		}
	}
}

// WithMaxAge はキャッシュの有効期間を設定する。0の場合は期限なし。
func WithMaxAge(d time.Duration) CacheOption {
	return func(c *KeySetCache) {
		if d >= 0 {
			c.maxAge = d
		}
	}
}

// KeySetCache は署名鍵セットをプロセス内にキャッシュする。
// 初回アクセスまたは未知のkidで取得元から再取得し、同時に発生した再取得は1回にまとめる。
//
// MaxAgeを指定しない場合、鍵はプロセスの生存期間中更新されない。
// 鍵のローテーションは、新しいkidを持つトークンがクールダウン経過後に届いた時点か、
// 再デプロイ時に反映される。
//
// Warmupによる事前取得も取得として数える。起動からクールダウンが経過するまでは、
// 未知のkidを持つトークンは再取得せずにKeyNotFoundで拒否される。
// IDプロバイダーの鍵を入れ替えた直後に起動した場合もこの期間は新しい鍵を拾わない。
type KeySetCache struct {
	source       KeySource
	fetchTimeout time.Duration
	cooldown     time.Duration
	maxAge       time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeySetCache は新しいKeySetCacheを生成する。
func NewKeySetCache(source KeySource, opts ...CacheOption) *KeySetCache {
	c := &KeySetCache{
		source:       source,
		fetchTimeout: defaultFetchTimeout,
		cooldown:     defaultCooldown,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SigningKey はkidに対応する公開鍵を返す。
// キャッシュに無い場合は鍵セットを再取得し、それでも見つからなければKeyNotFoundを返す。
// 取得に失敗した場合はKeySourceUnavailableを返す。
func (c *KeySetCache) SigningKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, fetchedAt, ok := c.lookup(kid)
	stale := c.isStale(fetchedAt)
	if ok && !stale {
		return key, nil
	}

	// 直近に取得済みで未知のkidの場合は再取得しない
	if !ok && !stale && !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.cooldown {
		return nil, newError(KindKeyNotFound, fmt.Errorf("kid=%q はキャッシュ済みの鍵セットに存在しません", kid))
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	key, _, ok = c.lookup(kid)
	if !ok {
		return nil, newError(KindKeyNotFound, fmt.Errorf("kid=%q は取得した鍵セットに存在しません", kid))
	}
	return key, nil
}

// Warmup は鍵セットを事前に取得する。
func (c *KeySetCache) Warmup(ctx context.Context) error {
	return c.refresh(ctx)
}

// Invalidate はキャッシュを破棄し、次回の参照で再取得させる。
func (c *KeySetCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.fetchedAt = time.Time{}
}

// lookup はキャッシュからkidの鍵と最終取得時刻を返す。
func (c *KeySetCache) lookup(kid string) (crypto.PublicKey, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, c.fetchedAt, ok
}

// isStale はキャッシュが未取得またはMaxAgeを超過しているかを判定する。
func (c *KeySetCache) isStale(fetchedAt time.Time) bool {
	if fetchedAt.IsZero() {
		return true
	}
	return c.maxAge > 0 && c.now().Sub(fetchedAt) >= c.maxAge
}

// refresh は鍵セットを取得してキャッシュを置き換える。
// 同時に呼ばれた場合は実行中の取得結果を共有する。
// 取得は呼び出し元のキャンセルから切り離し、fetchTimeoutで打ち切る。
func (c *KeySetCache) refresh(ctx context.Context) error {
	ch := c.group.DoChan("jwks", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		keys, err := c.source.FetchKeys(fetchCtx)
		if err != nil {
			return nil, newError(KindKeySourceUnavailable, err)
		}

		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return newError(KindKeySourceUnavailable, ctx.Err())
	}
}
