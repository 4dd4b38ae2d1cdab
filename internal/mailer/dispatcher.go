// Package mailer sends benefit-gated transactional email on behalf of the
// workflow and records every outcome as a trace comment on the record.
package mailer

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/danielkov/hireloop/internal/billing"
	"github.com/danielkov/hireloop/internal/retry"
	"github.com/danielkov/hireloop/internal/tracker"

	"go.uber.org/zap"
)

// Kind identifies a notification template and the benefit gating it.
type Kind string

const (
	KindRejection  Kind = "rejection"
	KindInvitation Kind = "screening_invitation"
	KindReply      Kind = "correspondence"
)

//go:embed templates/*.md
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.md"))

var subjects = map[Kind]string{
	KindRejection:  "Your application to {{.Position}}",
	KindInvitation: "Next step for your application to {{.Position}}",
	KindReply:      "Re: your application to {{.Position}}",
}

var benefits = map[Kind]string{
	KindRejection:  billing.BenefitEmailCommunication,
	KindInvitation: billing.BenefitAIScreening,
	KindReply:      billing.BenefitEmailCommunication,
}

// sentLabels guard each notification kind against repeat sends. Absence of an
// entry means the kind carries no once-only contract (correspondence).
var sentLabels = map[Kind]string{
	KindRejection:  "Rejection-Email-Sent",
	KindInvitation: "Screening-Invitation-Sent",
}

// Recipient is the candidate contact extracted from the record's metadata.
type Recipient struct {
	Name   string
	Email  string
	Thread string
}

// BenefitSource answers whether a tenant's plan grants a benefit.
type BenefitSource interface {
	HasBenefit(ctx context.Context, tenant, benefit string) (bool, error)
}

// TraceLog is the record store's non-mutating side channel.
type TraceLog interface {
	AddComment(ctx context.Context, issueID, body string) (*tracker.Comment, error)
	ListComments(ctx context.Context, issueID string) ([]*tracker.Comment, error)
}

// Outcome reports what a Send call did.
type Outcome struct {
	Sent      bool
	Skipped   string
	MessageID string
}

type Dispatcher struct {
	sender    EmailSender
	benefits  BenefitSource
	trace     TraceLog
	logger    *zap.Logger
	policy    retry.Policy

	FromAddress string
	ReplyDomain string
}

func NewDispatcher(logger *zap.Logger, sender EmailSender, benefitSource BenefitSource, trace TraceLog) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		benefits:    benefitSource,
		trace:       trace,
		logger:      logger,
		policy:      retry.DefaultPolicy(),
		FromAddress: "talent@hireloop.example.com",
		ReplyDomain: "reply.hireloop.example.com",
	}
}

// Send delivers the notification of the given kind for the issue, unless the
// tenant's plan withholds it or the record already carries the kind's sent
// label. The label check is check-then-act against a store without
// compare-and-swap, so delivery is at-least-once under concurrent duplicate
// events, not exactly-once.
func (d *Dispatcher) Send(ctx context.Context, kind Kind, tenant string, issue *tracker.Issue, rcpt Recipient, vars map[string]string) (*Outcome, error) {
	log := d.logger.With(
		zap.String("kind", string(kind)),
		zap.String("issue_id", issue.ID),
	)

	granted, err := d.benefits.HasBenefit(ctx, tenant, benefits[kind])
	if err != nil {
		// Fail closed: an unknown entitlement is treated as not granted.
		log.Warn("benefit lookup failed, withholding email", zap.Error(err))
		return &Outcome{Skipped: "benefit lookup failed"}, nil
	}
	if !granted {
		log.Info("benefit not granted, skipping email")
		return &Outcome{Skipped: "benefit not granted"}, nil
	}

	if sentLabel, ok := sentLabels[kind]; ok && issue.HasLabel(sentLabel) {
		log.Info("notification already sent, skipping", zap.String("label", sentLabel))
		return &Outcome{Skipped: "already sent"}, nil
	}

	if strings.TrimSpace(rcpt.Email) == "" {
		return nil, fmt.Errorf("recipient email is missing")
	}

	msg, err := d.compose(ctx, kind, tenant, issue.ID, rcpt, vars)
	if err != nil {
		return nil, err
	}

	var messageID string
	err = retry.Do(ctx, log, "mailer.send", d.policy, func(ctx context.Context) error {
		var err error
		messageID, err = d.sender.Send(ctx, msg)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info("email sent", zap.String("message_id", messageID))

	// Trace comment failure does not undo the send; the marker is best-effort
	// threading metadata, not state.
	body := fmt.Sprintf("%s email sent to %s (message-id: <%s>)", kind, rcpt.Email, messageID)
	if _, err := d.trace.AddComment(ctx, issue.ID, body); err != nil {
		log.Warn("failed to record email trace comment", zap.Error(err))
	}

	return &Outcome{Sent: true, MessageID: messageID}, nil
}

func (d *Dispatcher) compose(ctx context.Context, kind Kind, tenant, issueID string, rcpt Recipient, vars map[string]string) (*Message, error) {
	data := map[string]string{
		"Name":     rcpt.Name,
		"Position": "",
	}
	for key, value := range vars {
		data[key] = value
	}

	subject, err := renderString(subjects[kind], data)
	if err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}

	var body strings.Builder
	if err := templates.ExecuteTemplate(&body, string(kind)+".md", data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	inReplyTo, references := d.threadingFor(ctx, issueID)

	return &Message{
		From:       d.FromAddress,
		To:         rcpt.Email,
		Subject:    subject,
		Body:       body.String(),
		ReplyTo:    d.replyAddress(tenant, rcpt.Thread),
		InReplyTo:  inReplyTo,
		References: references,
	}, nil
}

func (d *Dispatcher) threadingFor(ctx context.Context, issueID string) (string, []string) {
	comments, err := d.trace.ListComments(ctx, issueID)
	if err != nil {
		d.logger.Warn("failed to list comments for threading",
			zap.String("issue_id", issueID),
			zap.Error(err),
		)
		return "", nil
	}

	return Threading(comments)
}

// replyAddress encodes the tenant and thread id so an inbound reply can be
// correlated back to this exact record without a separate datastore.
func (d *Dispatcher) replyAddress(tenant, thread string) string {
	if thread == "" {
		return ""
	}
	return fmt.Sprintf("reply+%s.%s@%s", tenant, thread, d.ReplyDomain)
}

func renderString(tmpl string, data map[string]string) (string, error) {
	parsed, err := template.New("subject").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := parsed.Execute(&out, data); err != nil {
		return "", err
	}

	return out.String(), nil
}
