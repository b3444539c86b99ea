package gateway

import (
	"context"
	"crypto"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/todo-gateway/pkg/auth"
	"github.com/nao1215/todo-gateway/pkg/middleware"
)

// Metrics はGatewayのPrometheusメトリクス。
// サーバーごとにレジストリを持ち、/metrics で公開する。
type Metrics struct {
	registry      *prometheus.Registry
	verifications *prometheus.CounterVec
	jwksFetches   *prometheus.CounterVec
	scopeDenials  *prometheus.CounterVec
}

// NewMetrics はメトリクスを初期化して返す。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_verifications_total",
				Help: "Total number of bearer token verifications by result",
			},
			[]string{"result"},
		),
		jwksFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_jwks_fetches_total",
				Help: "Total number of signing key set fetches by outcome",
			},
			[]string{"outcome"},
		),
		scopeDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_scope_denials_total",
				Help: "Total number of requests rejected for missing scope",
			},
			[]string{"scope"},
		),
	}

	m.registry.MustRegister(
		m.verifications,
		m.jwksFetches,
		m.scopeDenials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler は /metrics エンドポイント用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// scopeDenied はmiddleware.ScopeDenialHookとして登録する。
func (m *Metrics) scopeDenied(scope string) {
	m.scopeDenials.WithLabelValues(scope).Inc()
}

// instrumentedKeySource は鍵セット取得の成否を計測するauth.KeySource。
type instrumentedKeySource struct {
	next    auth.KeySource
	metrics *Metrics
}

func (s *instrumentedKeySource) FetchKeys(ctx context.Context) (map[string]crypto.PublicKey, error) {
	keys, err := s.next.FetchKeys(ctx)
	if err != nil {
		s.metrics.jwksFetches.WithLabelValues("failure").Inc()
		return nil, err
	}
	s.metrics.jwksFetches.WithLabelValues("success").Inc()
	return keys, nil
}

// instrumentedVerifier は検証結果を種別ごとに計測するmiddleware.TokenVerifier。
type instrumentedVerifier struct {
	next    middleware.TokenVerifier
	metrics *Metrics
}

func (v *instrumentedVerifier) Verify(ctx context.Context, token, issuer, audience string) (*auth.VerifiedToken, error) {
	verified, err := v.next.Verify(ctx, token, issuer, audience)
	if err != nil {
		result := string(auth.KindOf(err))
		if result == "" {
			result = "unknown"
		}
		v.metrics.verifications.WithLabelValues(result).Inc()
		return nil, err
	}
	v.metrics.verifications.WithLabelValues("ok").Inc()
	return verified, nil
}
