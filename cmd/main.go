package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"pest-scan/config"
	"pest-scan/internal/api/telegram"
	"pest-scan/internal/api/web"
	"pest-scan/internal/container"
	"pest-scan/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "pestscan",
		Short:         "Plant pest scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().String("detector", "", "Detector: stub or remote")
	bindFlag(v, "log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindFlag(v, "log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	bindFlag(v, "detector", rootCmd.PersistentFlags().Lookup("detector"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API and, if TELEGRAM_TOKEN is set, the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, true)
		},
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	bindFlag(v, "http_addr", serveCmd.Flags().Lookup("addr"))

	botCmd := &cobra.Command{
		Use:   "bot",
		Short: "Start the Telegram bot only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, false)
		},
	}

	rootCmd.AddCommand(serveCmd, botCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bindFlag привязывает флаг к ключу viper. Флаг важнее окружения, только если задан явно.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// run собирает приложение и работает до отмены ctx
func run(ctx context.Context, v *viper.Viper, withWeb bool) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Init(cfg.LogFormat, cfg.LogLevel)

	if !withWeb && cfg.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}

	// Собираем сервисы приложения
	appContainer, err := container.FromConfig(cfg, logger)
	if err != nil {
		return err
	}
	defer appContainer.Close()

	g, ctx := errgroup.WithContext(ctx)

	if withWeb {
		server := web.NewServer(appContainer.ScanService, appContainer.IntakeService, appContainer.Registry, logger)
		g.Go(func() error {
			return server.Start(cfg.HTTPAddr)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken, nil, appContainer.ScanService, appContainer.IntakeService, logger)
		if err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
		g.Go(func() error {
			logger.Info("bot is running")
			return bot.Run(ctx)
		})
	} else {
		logger.Info("TELEGRAM_TOKEN not set, bot disabled")
	}

	err = g.Wait()
	logger.Info("stopped")
	return err
}
