package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/todo-gateway/pkg/auth"
	"github.com/nao1215/todo-gateway/pkg/middleware"
)

const (
	// scopeReadTodos は /api/todos に必要なスコープ。
	scopeReadTodos = "read:todos"
	// scopeReadBilling は /api/billing に必要なスコープ。
	scopeReadBilling = "read:billing"

	// timestampLayout はヘルスチェックのtimestamp形式（ミリ秒付きUTC）。
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"

	shutdownTimeout = 10 * time.Second
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg Config
	// keys は署名鍵セットのキャッシュ。
	keys *auth.KeySetCache
	// verifier はメトリクス計測付きのトークン検証器。
	verifier middleware.TokenVerifier
	// metrics はPrometheusメトリクス。
	metrics *Metrics
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
}

// NewServer は新しいGatewayサーバーを生成する。
// 鍵セットの取得はここでは行わず、Run時または最初のリクエスト時に行う。
func NewServer(cfg Config) (*Server, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	metrics := NewMetrics()
	source := &instrumentedKeySource{
		next:    auth.NewHTTPKeySource(cfg.JWKSURL, nil),
		metrics: metrics,
	}
	keys := auth.NewKeySetCache(source,
		auth.WithFetchTimeout(cfg.JWKSFetchTimeout),
		auth.WithCooldown(cfg.JWKSCooldown),
		auth.WithMaxAge(cfg.JWKSMaxAge),
	)
	verifier, err := auth.NewVerifier(keys,
		auth.WithAlgorithms(cfg.Algorithms...),
		auth.WithLeeway(cfg.Leeway),
	)
	if err != nil {
		return nil, fmt.Errorf("トークン検証器の初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	s := &Server{
		router:   router,
		cfg:      cfg,
		keys:     keys,
		verifier: &instrumentedVerifier{next: verifier, metrics: metrics},
		metrics:  metrics,
		now:      time.Now,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はAPIのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler はメトリクス用のHTTPハンドラを返す。
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// Run はAPIサーバーとメトリクスサーバーを起動し、ctxがキャンセルされるまでブロックする。
// キャンセル後は処理中のリクエストを待ってから終了する。
func (s *Server) Run(ctx context.Context) error {
	logger := zap.L()

	// 起動時の取得失敗は致命的ではない。最初のリクエストで再取得する。
	if err := s.keys.Warmup(ctx); err != nil {
		logger.Warn("署名鍵セットの事前取得に失敗しました",
			zap.String("jwks_url", s.cfg.JWKSURL),
			zap.Error(err),
		)
	}

	servers := []*http.Server{{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	if s.cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTPサーバー %s の起動に失敗: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("HTTPサーバーを停止します")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTPサーバー %s の停止に失敗: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	authMiddleware := middleware.JWTAuth(s.verifier, s.cfg.Issuer, s.cfg.Audience)

	// ヘルスチェック（認証不要）
	s.router.GET("/api/health", s.handleHealth())

	api := s.router.Group("/api")
	api.Use(authMiddleware)
	{
		api.GET("/me", s.handleMe())
		api.GET("/todos", middleware.RequireScope(scopeReadTodos, s.metrics.scopeDenied), s.handleTodos())
		api.GET("/billing", middleware.RequireScope(scopeReadBilling, s.metrics.scopeDenied), s.handleBilling())
	}

	// 未定義のパスも認証を先に行い、未認証のクライアントにはルートの有無を明かさない
	s.router.NoRoute(authMiddleware, func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"domain":    s.cfg.Domain,
			"timestamp": s.now().UTC().Format(timestampLayout),
		})
	}
}

// handleMe は検証済みトークンのペイロードをそのまま返すハンドラを返す。
// 独自クレームや文字列のaudもトークン上の形で返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.GetVerifiedToken(c)
		if !ok || token.Payload == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, token.Payload)
	}
}

// handleTodos は呼び出し元が所有するモックTODOを返すハンドラを返す。
func (s *Server) handleTodos() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"todos": generateTodos(middleware.GetUserID(c), todoCount),
		})
	}
}

// handleBilling は固定の請求情報を返すハンドラを返す。
func (s *Server) handleBilling() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, billingResponse)
	}
}
