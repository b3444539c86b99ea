// API Gatewayサービスのエントリポイント。
// IDプロバイダーが発行したBearerトークンを検証し、スコープに応じてTODOと請求情報を返す。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/todo-gateway/internal/gateway"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port        string
		metricsAddr string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "JWT-protected TODO API gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := gateway.NewLogger(logLevel)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer func() { _ = logger.Sync() }()
			zap.ReplaceGlobals(logger)

			cfg, err := gateway.LoadConfig()
			if err != nil {
				logger.Error("設定の読み込みに失敗", zap.Error(err))
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}

			server, err := gateway.NewServer(cfg)
			if err != nil {
				logger.Error("Gatewayサーバーの初期化に失敗", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Gatewayサービスを起動します",
				zap.String("port", cfg.Port),
				zap.String("issuer", cfg.Issuer),
				zap.String("audience", cfg.Audience),
				zap.Strings("algorithms", cfg.Algorithms),
			)
			if err := server.Run(ctx); err != nil {
				logger.Error("Gatewayサービスが異常終了しました", zap.Error(err))
				return err
			}
			logger.Info("Gatewayサービスを停止しました")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "API listen port (overrides PORT)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address, empty disables (overrides METRICS_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")
	return cmd
}
