package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// --- テストヘルパー ---

const (
	testIssuer   = "https://cfg-issuer/"
	testAudience = "cfg-audience"
	testKID      = "test-key-1"
)

// fakeSource は取得回数を記録するテスト用の鍵取得元。
type fakeSource struct {
	mu    sync.Mutex
	keys  map[string]crypto.PublicKey
	err   error
	calls atomic.Int32
	// started は取得開始時に1度だけ通知される（nilなら通知しない）。
	started chan struct{}
	// release がnilでない場合、closeされるかctxが終了するまで取得をブロックする。
	release chan struct{}
}

func (f *fakeSource) FetchKeys(ctx context.Context) (map[string]crypto.PublicKey, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]crypto.PublicKey, len(f.keys))
	for k, v := range f.keys {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSource) setKeys(keys map[string]crypto.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = keys
}

// fakeClock は手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testRSAKey はテスト用のRSA鍵を生成する。
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// validClaims は検証に通るクレームを返す。
func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"iss":   testIssuer,
		"aud":   testAudience,
		"scope": "read:todos",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(15 * time.Minute).Unix(),
	}
}

// signRS256 はkidを付けてRS256で署名したトークンを返す。
func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// withHeader は任意のヘッダーJSONを持つ未署名のトークンを組み立てる。
// ライブラリが生成できないalgの検証に使う。
func withHeader(t *testing.T, header string) string {
	t.Helper()

	payload, err := json.Marshal(validClaims())
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("signature"))
}
