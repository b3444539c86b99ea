package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/todo-gateway/pkg/auth"
)

// TestRequireScope はRequireScopeミドルウェアを検証する。
func TestRequireScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		granted    string
		required   []string
		wantStatus int
	}{
		{name: "必要なスコープを持つ場合は200", granted: "read:todos", required: []string{"read:todos"}, wantStatus: http.StatusOK},
		{name: "複数付与の中に含まれる場合は200", granted: "openid read:billing read:todos", required: []string{"read:todos"}, wantStatus: http.StatusOK},
		{name: "スコープが不足する場合は403", granted: "read:billing", required: []string{"read:todos"}, wantStatus: http.StatusForbidden},
		{name: "スコープが空の場合は403", granted: "", required: []string{"read:todos"}, wantStatus: http.StatusForbidden},
		{name: "前方一致では許可しない", granted: "read:todos:own", required: []string{"read:todos"}, wantStatus: http.StatusForbidden},
		{name: "連結したガードはすべて満たせば200", granted: "read:todos read:billing", required: []string{"read:todos", "read:billing"}, wantStatus: http.StatusOK},
		{name: "連結したガードは1つでも欠ければ403", granted: "read:todos", required: []string{"read:todos", "read:billing"}, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := &fakeVerifier{results: map[string]*auth.VerifiedToken{"tok": verifiedToken("user-1", tt.granted)}}
			var denied []string
			var recorded []error
			handlerCalled := false

			handlers := make([]gin.HandlerFunc, 0, len(tt.required)+2)
			handlers = append(handlers, recordErrors(&recorded))
			for _, scope := range tt.required {
				handlers = append(handlers, RequireScope(scope, func(s string) { denied = append(denied, s) }))
			}
			handlers = append(handlers, func(c *gin.Context) {
				handlerCalled = true
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			router := newAuthRouter(v, handlers...)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if handlerCalled != (tt.wantStatus == http.StatusOK) {
				t.Errorf("ハンドラー実行 = %v", handlerCalled)
			}
			if tt.wantStatus != http.StatusForbidden {
				if len(denied) != 0 {
					t.Errorf("拒否フックが呼ばれてはならない: %v", denied)
				}
				if len(recorded) != 0 {
					t.Errorf("エラーが記録されてはならない: %v", recorded)
				}
				return
			}
			if len(recorded) != 1 || !errors.Is(recorded[0], auth.ErrInsufficientScope) {
				t.Errorf("記録されたエラー = %v, want %v", recorded, auth.ErrInsufficientScope)
			}
			if got := decodeError(t, w); got != "insufficient scope" {
				t.Errorf("error = %q, want %q", got, "insufficient scope")
			}
			if len(denied) != 1 {
				t.Fatalf("拒否フックの呼び出し回数 = %d, want 1", len(denied))
			}
			want := `Bearer error="insufficient_scope", scope="` + denied[0] + `"`
			if got := w.Header().Get("WWW-Authenticate"); got != want {
				t.Errorf("WWW-Authenticate = %q, want %q", got, want)
			}
		})
	}

	t.Run("JWTAuthより前に置かれた場合は500になること", func(t *testing.T) {
		t.Parallel()

		handlerCalled := false
		var recorded []error
		router := gin.New()
		router.GET("/test", recordErrors(&recorded), RequireScope("read:todos"), func(c *gin.Context) {
			handlerCalled = true
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusInternalServerError)
		}
		if handlerCalled {
			t.Error("後続のハンドラーが実行されてはならない")
		}
		if got := decodeError(t, w); got != "internal server error" {
			t.Errorf("error = %q, want %q", got, "internal server error")
		}
		if len(recorded) != 1 || !errors.Is(recorded[0], auth.ErrMisconfiguredRoute) {
			t.Fatalf("記録されたエラー = %v, want %v", recorded, auth.ErrMisconfiguredRoute)
		}
		if errors.Is(recorded[0], auth.ErrInsufficientScope) {
			t.Error("設定誤りをスコープ不足として扱ってはならない")
		}
	})

	t.Run("スコープ不足と未認証は異なるステータスになること", func(t *testing.T) {
		t.Parallel()

		v := &fakeVerifier{results: map[string]*auth.VerifiedToken{"tok": verifiedToken("user-1", "read:billing")}}
		router := newAuthRouter(v, RequireScope("read:todos"), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		noToken := httptest.NewRecorder()
		router.ServeHTTP(noToken, httptest.NewRequest(http.MethodGet, "/test", nil))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer tok")
		forbidden := httptest.NewRecorder()
		router.ServeHTTP(forbidden, req)

		if noToken.Code != http.StatusUnauthorized || forbidden.Code != http.StatusForbidden {
			t.Errorf("未認証 = %d, スコープ不足 = %d, want %d / %d",
				noToken.Code, forbidden.Code, http.StatusUnauthorized, http.StatusForbidden)
		}
	})
}

// recordErrors は後続のハンドラーがc.Errorsに積んだエラーを記録する。
func recordErrors(dst *[]error) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, e := range c.Errors {
			*dst = append(*dst, e.Err)
		}
	}
}
