package cmd

import (
	"context"
	"fmt"

	"github.com/danielkov/hireloop/internal/ai/gemini"
	"github.com/danielkov/hireloop/internal/billing"
	"github.com/danielkov/hireloop/internal/docparse"
	"github.com/danielkov/hireloop/internal/logger"
	"github.com/danielkov/hireloop/internal/mailer"
	"github.com/danielkov/hireloop/internal/meter"
	"github.com/danielkov/hireloop/internal/secrets"
	"github.com/danielkov/hireloop/internal/tracker"
	"github.com/danielkov/hireloop/internal/workflow"

	"go.uber.org/zap"
)

// components holds everything a command needs to act on candidate records.
type components struct {
	engine *workflow.Engine
	relay  *workflow.Relay
	store  *tracker.Client
}

func buildComponents(ctx context.Context, log *zap.Logger, config *Config) (*components, error) {
	if config.Tracker == nil {
		return nil, fmt.Errorf("tracker section is not configured")
	}

	trackerToken, err := secrets.Load(secrets.Source{
		Name:  "tracker token",
		Value: config.Tracker.Token,
		File:  config.Tracker.TokenFile,
	})
	if err != nil {
		return nil, err
	}
	store := tracker.New(log, trackerToken)

	if config.Billing == nil {
		return nil, fmt.Errorf("billing section is not configured")
	}

	billingKey, err := secrets.Load(secrets.Source{
		Name:  "billing api key",
		Value: config.Billing.APIKey,
		File:  config.Billing.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}
	billingClient := billing.New(log, billingKey)

	if config.Email == nil {
		return nil, fmt.Errorf("email section is not configured")
	}

	emailKey, err := secrets.Load(secrets.Source{
		Name:  "email api key",
		Value: config.Email.APIKey,
		File:  config.Email.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}
	emailClient := mailer.NewClient(log, emailKey)

	dispatcher := mailer.NewDispatcher(log, emailClient, billingClient, store)
	if config.Email.From != "" {
		dispatcher.FromAddress = config.Email.From
	}
	if config.Email.ReplyDomain != "" {
		dispatcher.ReplyDomain = config.Email.ReplyDomain
	}

	screener, err := buildScreener(ctx, log, config.AI)
	if err != nil {
		return nil, err
	}

	if config.Meter == nil || config.Meter.PostgresDSN == "" {
		return nil, fmt.Errorf("meter.postgres-dsn is not configured")
	}
	reservations, err := meter.NewPostgresStore(config.Meter.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("meter store: %w", err)
	}

	guard := meter.NewGuard(log, billingClient, reservations,
		adminNotifier(log, emailClient, dispatcher.FromAddress, config.AdminEmail))

	parser := docparse.New(log, config.WorkDir)

	engine := workflow.NewEngine(log, store, screener, guard, dispatcher, parser, config.Tenant, config.TeamID)
	if config.InterviewBaseURL != "" {
		engine.InterviewBaseURL = config.InterviewBaseURL
	}

	relay := workflow.NewRelay(log, store, dispatcher, config.Tenant, config.TeamID)

	return &components{engine: engine, relay: relay, store: store}, nil
}

func buildScreener(ctx context.Context, log *zap.Logger, config *AIConfig) (*gemini.Screener, error) {
	if config == nil || config.Gemini == nil {
		return nil, fmt.Errorf("ai.gemini section is not configured")
	}
	if config.Provider != "" && config.Provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider %q", config.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.Gemini.APIKey,
		File:  config.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, config.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	aiLog := logger.WithAI(log, "gemini", generator.Model())

	return gemini.NewScreener(generator, aiLog, config.Gemini.MaxLogLength), nil
}

// adminNotifier emails the operator about operational events. Alerts are best
// effort; a failed alert must never fail the calling flow.
func adminNotifier(log *zap.Logger, sender mailer.EmailSender, from, adminEmail string) meter.AdminNotifier {
	if adminEmail == "" {
		return nil
	}

	return func(ctx context.Context, subject, detail string) {
		_, err := sender.Send(ctx, &mailer.Message{
			From:    from,
			To:      adminEmail,
			Subject: subject,
			Body:    detail,
		})
		if err != nil {
			log.Warn("admin alert email failed", zap.Error(err))
		}
	}
}
