package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/logging"
)

var (
	configFile string
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Call event relay",
		Long:  "Relay consolidates call-lifecycle webhooks into one enriched record per call and forwards it downstream",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, env vars are always read)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the config")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(constants.ServiceName)

			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				earlyLog.Warn("Failed to load env file %s: %v", envFile, err)
			}

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ctx = logging.WithServiceName(ctx, constants.ServiceName)
			log.InfowCtx(ctx, "Starting Relay Service",
				"config_file", configFile,
				"webhook_path", cfg.Server.WebhookPath,
			)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
