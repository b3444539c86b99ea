// スモーククライアントのエントリポイント。
// クライアントクレデンシャルでアクセストークンを取得し、Gateway APIを呼び出して結果を表示する。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/nao1215/todo-gateway/internal/gateway"
	"github.com/nao1215/todo-gateway/pkg/httpclient"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		noToken  bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke [path...]",
		Short: "Call the gateway with a client-credentials access token",
		Long: `smoke obtains an access token from <AUTH0_DOMAIN>/oauth/token using
AUTH0_CLIENT_ID and AUTH0_CLIENT_SECRET, then calls API_BASE_URL + path for each
path argument (default: /api/todos) and prints the JSON response.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := gateway.NewLogger(logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			zap.ReplaceGlobals(logger)

			cfg, err := gateway.LoadConfig()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"/api/todos"}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var opts []httpclient.Option
			if !noToken {
				token, err := fetchToken(ctx, cfg)
				if err != nil {
					return err
				}
				opts = append(opts, httpclient.WithBearerToken(token))
			}
			client := httpclient.New(cfg.APIBaseURL, opts...)

			var errs []error
			for _, path := range args {
				if err := call(ctx, cmd, client, path); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&noToken, "no-token", false, "call without an Authorization header")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	return cmd
}

// fetchToken はクライアントクレデンシャルフローでアクセストークンを取得する。
// トークンエンドポイントは "<Issuer>oauth/token"。
func fetchToken(ctx context.Context, cfg gateway.Config) (string, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return "", errors.New("AUTH0_CLIENT_ID と AUTH0_CLIENT_SECRET を設定してください")
	}

	cc := clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       strings.TrimSuffix(cfg.Issuer, "/") + "/oauth/token",
		Scopes:         strings.Fields(cfg.Scope),
		EndpointParams: url.Values{"audience": {cfg.Audience}},
	}
	token, err := cc.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("アクセストークンの取得に失敗: %w", err)
	}
	zap.L().Debug("アクセストークンを取得しました", zap.Time("expiry", token.Expiry))
	return token.AccessToken, nil
}

// call はpathを呼び出し、レスポンスを整形して出力する。
func call(ctx context.Context, cmd *cobra.Command, client *httpclient.Client, path string) error {
	var body json.RawMessage
	if err := client.GetJSON(ctx, path, &body); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			zap.L().Warn("APIがエラーを返しました",
				zap.String("path", path),
				zap.Int("status", statusErr.StatusCode),
				zap.String("www_authenticate", statusErr.WWWAuthenticate),
				zap.String("body", statusErr.Body),
			)
		}
		return fmt.Errorf("%s: %w", path, err)
	}

	pretty, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: レスポンスの整形に失敗: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "GET %s\n%s\n", path, pretty)
	return nil
}
