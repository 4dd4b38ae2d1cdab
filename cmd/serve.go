package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielkov/hireloop/internal/logger"
	"github.com/danielkov/hireloop/internal/secrets"
	"github.com/danielkov/hireloop/internal/webhook"
	"github.com/danielkov/hireloop/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultListen = ":8080"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for tracker webhooks and drive candidate records through the workflow",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("can't create a logger: %s", err)
		}

		config, err := getConfig()
		if err != nil {
			logger.Fatal("can't get the config", zap.Error(err))
		}

		if err := serve(cmd.Context(), logger, config); err != nil {
			logger.Fatal("server exited", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, logger *zap.Logger, config *Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildComponents(ctx, logger, config)
	if err != nil {
		return err
	}

	// The engine patches labels by name; make sure the team has the whole
	// vocabulary before the first delivery arrives.
	for _, label := range workflow.Labels() {
		if _, err := deps.store.EnsureLabel(ctx, label); err != nil {
			return fmt.Errorf("ensure label %q: %w", label, err)
		}
	}

	if config.Webhook == nil {
		return errors.New("webhook section is not configured")
	}
	secret, err := secrets.Load(secrets.Source{
		Name:  "webhook secret",
		Value: config.Webhook.Secret,
		File:  config.Webhook.SecretFile,
	})
	if err != nil {
		return err
	}

	hook, err := webhook.NewServer(logger, secret, deps.engine, deps.relay)
	if err != nil {
		return err
	}

	listen := config.Listen
	if listen == "" {
		listen = defaultListen
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           hook.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening",
			zap.String("addr", listen),
			zap.String("tenant", config.Tenant),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
