// Package workflow implements the candidate state machine. The engine
// derives the applicable transition purely from the record's current status
// and label set, performs the transition's side effects, and commits at most
// one composite mutation back to the record store per invocation.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielkov/hireloop/internal/ai"
	"github.com/danielkov/hireloop/internal/docparse"
	"github.com/danielkov/hireloop/internal/logger"
	"github.com/danielkov/hireloop/internal/mailer"
	"github.com/danielkov/hireloop/internal/meter"
	"github.com/danielkov/hireloop/internal/retry"
	"github.com/danielkov/hireloop/internal/tracker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordStore is the slice of the tracker API the engine consumes.
type RecordStore interface {
	GetIssue(ctx context.Context, id string) (*tracker.Issue, error)
	UpdateIssue(ctx context.Context, id string, patch *tracker.IssuePatch) error
	AddComment(ctx context.Context, issueID, body string) (*tracker.Comment, error)
	GetAttachments(ctx context.Context, issueID string) ([]*tracker.Attachment, error)
	GetProject(ctx context.Context, id string) (*tracker.Project, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// MeterGuard gates billing-metered operations.
type MeterGuard interface {
	CheckAndReserve(ctx context.Context, tenant, meterName string) meter.Result
	RecordUsage(ctx context.Context, tenant, meterName string, metadata map[string]string)
}

// Notifier sends benefit-gated candidate email.
type Notifier interface {
	Send(ctx context.Context, kind mailer.Kind, tenant string, issue *tracker.Issue, rcpt mailer.Recipient, vars map[string]string) (*mailer.Outcome, error)
}

// TextExtractor converts attachment bytes to plain text.
type TextExtractor interface {
	ExtractText(filename string, data []byte) (string, error)
}

const meterScreenings = "candidate_screenings"

type transition int

const (
	transitionNone transition = iota
	transitionParseDocuments
	transitionScreen
	transitionInvite
	transitionReject
)

func (t transition) String() string {
	switch t {
	case transitionParseDocuments:
		return "parse_documents"
	case transitionScreen:
		return "screen"
	case transitionInvite:
		return "invite"
	case transitionReject:
		return "reject"
	default:
		return "none"
	}
}

type Engine struct {
	store     RecordStore
	screener  ai.Screener
	guard     MeterGuard
	notifier  Notifier
	extractor TextExtractor
	logger    *zap.Logger
	policy    retry.Policy

	// tenant and teamID scope the engine to one organization account;
	// records outside the team are ignored.
	tenant string
	teamID string

	// InterviewBaseURL prefixes generated interview session links.
	InterviewBaseURL string
}

func NewEngine(log *zap.Logger, store RecordStore, screener ai.Screener, guard MeterGuard, notifier Notifier, extractor TextExtractor, tenant, teamID string) *Engine {
	return &Engine{
		store:            store,
		screener:         screener,
		guard:            guard,
		notifier:         notifier,
		extractor:        extractor,
		logger:           log,
		policy:           retry.DefaultPolicy(),
		tenant:           tenant,
		teamID:           teamID,
		InterviewBaseURL: "https://interviews.hireloop.example.com/s",
	}
}

// decide maps the record's current state to the single applicable
// transition. It looks only at status and labels: event payload content must
// never influence the outcome, or duplicate and out-of-order deliveries
// would diverge.
func decide(status string, labels LabelSet) transition {
	switch {
	case status == tracker.StatusTodo && labels.Has(LabelNew):
		return transitionParseDocuments
	case status == tracker.StatusTodo && labels.Has(LabelProcessed):
		return transitionScreen
	case status == tracker.StatusInProgress && labels.Has(LabelPreScreened) && !labels.Has(LabelScreeningInvitationSent):
		return transitionInvite
	case status == tracker.StatusDeclined && !labels.Has(LabelRejectionEmailSent):
		return transitionReject
	default:
		return transitionNone
	}
}

// statusFor is the total confidence-to-status mapping.
func statusFor(confidence ai.Confidence) string {
	switch confidence {
	case ai.ConfidenceHigh:
		return tracker.StatusInProgress
	case ai.ConfidenceLow:
		return tracker.StatusDeclined
	default:
		return tracker.StatusTriage
	}
}

// Process handles one delivery for one record. State is re-fetched fresh at
// the start: the event that triggered the call may be stale, duplicated, or
// out of order, and the guard table evaluated against current state is the
// only ordering defense.
func (e *Engine) Process(ctx context.Context, issueID string) error {
	log := logger.WithIssue(e.logger, e.tenant, issueID)

	var issue *tracker.Issue
	err := retry.Do(ctx, log, "tracker.get_issue", e.policy, func(ctx context.Context) error {
		var err error
		issue, err = e.store.GetIssue(ctx, issueID)
		return err
	})
	if err != nil {
		return fmt.Errorf("get issue %s: %w", issueID, err)
	}

	if e.teamID != "" && issue.TeamID != e.teamID {
		log.Debug("issue outside the ATS team, ignoring", zap.String("team_id", issue.TeamID))
		return nil
	}

	labels := ParseLabels(issue.Labels)
	next := decide(issue.Status, labels)

	log.Info("evaluated transition",
		zap.String("status", issue.Status),
		zap.Strings("labels", labels.Strings()),
		zap.String("transition", next.String()),
	)

	switch next {
	case transitionParseDocuments:
		return e.parseDocuments(ctx, log, issue, labels)
	case transitionScreen:
		return e.screen(ctx, log, issue, labels)
	case transitionInvite:
		return e.invite(ctx, log, issue, labels)
	case transitionReject:
		return e.reject(ctx, log, issue, labels)
	default:
		return nil
	}
}

// parseDocuments extracts text from the record's attachments and appends it
// to the description. Individual attachment failures are logged and skipped;
// the transition completes regardless so the record cannot get stuck on a
// corrupt upload.
func (e *Engine) parseDocuments(ctx context.Context, log *zap.Logger, issue *tracker.Issue, labels LabelSet) error {
	var attachments []*tracker.Attachment
	err := retry.Do(ctx, log, "tracker.get_attachments", e.policy, func(ctx context.Context) error {
		var err error
		attachments, err = e.store.GetAttachments(ctx, issue.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("get attachments: %w", err)
	}

	var docs []ParsedDocument
	for _, attachment := range attachments {
		if !docparse.Supported(attachment.Title) {
			log.Debug("skipping unsupported attachment", zap.String("title", attachment.Title))
			continue
		}

		var data []byte
		err := retry.Do(ctx, log, "tracker.download", e.policy, func(ctx context.Context) error {
			var err error
			data, err = e.store.Download(ctx, attachment.URL)
			return err
		})
		if err != nil {
			log.Warn("attachment download failed, skipping",
				zap.String("title", attachment.Title),
				zap.Error(err),
			)
			continue
		}

		text, err := e.extractor.ExtractText(attachment.Title, data)
		if err != nil {
			log.Warn("attachment parse failed, skipping",
				zap.String("title", attachment.Title),
				zap.Error(err),
			)
			continue
		}

		docs = append(docs, ParsedDocument{Title: attachment.Title, Text: text})
	}

	description := AppendDocuments(issue.Description, docs)

	patch := &tracker.IssuePatch{
		Labels:      labels.Advance(LabelNew, LabelProcessed).Strings(),
		Description: &description,
	}
	if err := e.commit(ctx, log, issue.ID, patch); err != nil {
		return err
	}

	e.comment(ctx, log, issue.ID, fmt.Sprintf("Parsed %d of %d attachments into the description.", len(docs), len(attachments)))
	return nil
}

// screen runs the AI evaluation and moves the record to the recommended
// status. Missing inputs and AI failures route to Triage for human review
// instead of failing the delivery.
func (e *Engine) screen(ctx context.Context, log *zap.Logger, issue *tracker.Issue, labels LabelSet) error {
	nextLabels := labels.Advance(LabelProcessed, LabelPreScreened).Strings()

	jobText, reason := e.jobContent(ctx, log, issue)
	if jobText == "" {
		return e.triage(ctx, log, issue, nextLabels, reason)
	}

	if strings.TrimSpace(issue.Description) == "" {
		return e.triage(ctx, log, issue, nextLabels, "candidate description is empty")
	}

	reservation := e.guard.CheckAndReserve(ctx, e.tenant, meterScreenings)
	if !reservation.Allowed {
		log.Info("screening quota exhausted, routing to triage",
			zap.Int("balance", reservation.Balance),
			zap.Bool("degraded", reservation.Degraded),
		)
		return e.triage(ctx, log, issue, nextLabels, "screening quota exhausted; needs manual review")
	}

	var result *ai.ScreeningResult
	err := retry.Do(ctx, log, "ai.score", e.policy, func(ctx context.Context) error {
		var err error
		result, err = e.screener.Score(ctx, issue.Description, jobText)
		return err
	})
	if err != nil {
		log.Warn("AI screening failed, routing to triage", zap.Error(err))
		return e.triage(ctx, log, issue, nextLabels, fmt.Sprintf("AI screening failed: %v", err))
	}

	status := statusFor(result.Confidence)

	log.Info("screening verdict",
		zap.String("confidence", string(result.Confidence)),
		zap.String("recommended_status", status),
	)

	patch := &tracker.IssuePatch{
		Status: &status,
		Labels: nextLabels,
	}
	if err := e.commit(ctx, log, issue.ID, patch); err != nil {
		return err
	}

	// Usage is reported after the fact for reconciliation; the reservation
	// already happened, so a lost report never doubles as a second spend.
	go e.guard.RecordUsage(context.WithoutCancel(ctx), e.tenant, meterScreenings, map[string]string{
		"issue_id":   issue.ID,
		"confidence": string(result.Confidence),
	})

	e.comment(ctx, log, issue.ID, screeningComment(result, status))
	return nil
}

// invite prepares the screening interview and notifies the candidate. The
// invitation label is added even when the email is withheld so a future
// benefit upgrade does not resend stale invitations.
func (e *Engine) invite(ctx context.Context, log *zap.Logger, issue *tracker.Issue, labels LabelSet) error {
	patch := &tracker.IssuePatch{
		Labels: labels.With(LabelScreeningInvitationSent).Strings(),
	}

	candidate, err := ParseCandidate(issue.Description)
	if err != nil {
		log.Warn("cannot invite candidate", zap.Error(err))
		if err := e.commit(ctx, log, issue.ID, patch); err != nil {
			return err
		}
		e.comment(ctx, log, issue.ID, fmt.Sprintf("Screening invitation skipped: %v", err))
		return nil
	}

	jobText, _ := e.jobContent(ctx, log, issue)

	var pointers []string
	if jobText != "" {
		err := retry.Do(ctx, log, "ai.generate_pointers", e.policy, func(ctx context.Context) error {
			var err error
			pointers, err = e.screener.GeneratePointers(ctx, jobText, issue.Description)
			return err
		})
		if err != nil {
			log.Warn("pointer generation failed, inviting without pointers", zap.Error(err))
		}
	}

	sessionID := uuid.NewString()

	outcome, err := e.notifier.Send(ctx, mailer.KindInvitation, e.tenant, issue, mailer.Recipient{
		Name:   candidate.Name,
		Email:  candidate.Email,
		Thread: candidate.Thread,
	}, map[string]string{
		"Position":   issue.Title,
		"SessionURL": fmt.Sprintf("%s/%s", e.InterviewBaseURL, sessionID),
	})
	if err != nil {
		log.Warn("invitation email failed", zap.Error(err))
	}

	if err := e.commit(ctx, log, issue.ID, patch); err != nil {
		return err
	}

	e.comment(ctx, log, issue.ID, inviteComment(sessionID, pointers, outcome, err))
	return nil
}

// reject sends the rejection notification and marks it done.
func (e *Engine) reject(ctx context.Context, log *zap.Logger, issue *tracker.Issue, labels LabelSet) error {
	patch := &tracker.IssuePatch{
		Labels: labels.With(LabelRejectionEmailSent).Strings(),
	}

	candidate, err := ParseCandidate(issue.Description)
	if err != nil {
		log.Warn("cannot send rejection", zap.Error(err))
		if err := e.commit(ctx, log, issue.ID, patch); err != nil {
			return err
		}
		e.comment(ctx, log, issue.ID, fmt.Sprintf("Rejection email skipped: %v", err))
		return nil
	}

	_, sendErr := e.notifier.Send(ctx, mailer.KindRejection, e.tenant, issue, mailer.Recipient{
		Name:   candidate.Name,
		Email:  candidate.Email,
		Thread: candidate.Thread,
	}, map[string]string{
		"Position": issue.Title,
	})
	if sendErr != nil {
		log.Warn("rejection email failed", zap.Error(sendErr))
	}

	if err := e.commit(ctx, log, issue.ID, patch); err != nil {
		return err
	}

	if sendErr != nil {
		e.comment(ctx, log, issue.ID, fmt.Sprintf("Rejection email failed: %v", sendErr))
	}
	return nil
}

// triage commits the record to human review with the advanced label set.
func (e *Engine) triage(ctx context.Context, log *zap.Logger, issue *tracker.Issue, nextLabels []string, reason string) error {
	status := tracker.StatusTriage
	patch := &tracker.IssuePatch{
		Status: &status,
		Labels: nextLabels,
	}
	if err := e.commit(ctx, log, issue.ID, patch); err != nil {
		return err
	}

	e.comment(ctx, log, issue.ID, fmt.Sprintf("Routed to triage: %s", reason))
	return nil
}

// jobContent resolves the linked posting's description. An empty result
// carries a human-readable reason.
func (e *Engine) jobContent(ctx context.Context, log *zap.Logger, issue *tracker.Issue) (string, string) {
	if issue.ProjectID == "" {
		return "", "no job posting linked to the candidate"
	}

	var project *tracker.Project
	err := retry.Do(ctx, log, "tracker.get_project", e.policy, func(ctx context.Context) error {
		var err error
		project, err = e.store.GetProject(ctx, issue.ProjectID)
		return err
	})
	if err != nil {
		return "", fmt.Sprintf("job posting lookup failed: %v", err)
	}

	if !project.Accepting() {
		return "", fmt.Sprintf("job posting %q is not accepting candidates (status %s)", project.Name, project.Status)
	}

	if strings.TrimSpace(project.Content) == "" {
		return "", fmt.Sprintf("job posting %q has no description", project.Name)
	}

	return project.Content, ""
}

// commit issues the branch's single composite mutation. Every transition
// funnels through here exactly once per invocation: the tracker emits a
// webhook for each update, so a second write would feed the engine its own
// output.
func (e *Engine) commit(ctx context.Context, log *zap.Logger, issueID string, patch *tracker.IssuePatch) error {
	if patch.IsEmpty() {
		return nil
	}

	err := retry.Do(ctx, log, "tracker.update_issue", e.policy, func(ctx context.Context) error {
		return e.store.UpdateIssue(ctx, issueID, patch)
	})
	if err != nil {
		return fmt.Errorf("update issue %s: %w", issueID, err)
	}

	return nil
}

// comment appends to the trace log. Failures are logged and swallowed: the
// trace is diagnostics, never state.
func (e *Engine) comment(ctx context.Context, log *zap.Logger, issueID, body string) {
	if _, err := e.store.AddComment(ctx, issueID, body); err != nil {
		log.Warn("failed to add trace comment", zap.Error(err))
	}
}

func screeningComment(result *ai.ScreeningResult, status string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "AI screening verdict: **%s** → %s\n\n", result.Confidence, status)

	if result.Reasoning != "" {
		fmt.Fprintf(&builder, "%s\n", result.Reasoning)
	}
	if len(result.MatchedCriteria) > 0 {
		builder.WriteString("\nMatched criteria:\n")
		for _, criterion := range result.MatchedCriteria {
			fmt.Fprintf(&builder, "- %s\n", criterion)
		}
	}
	if len(result.Concerns) > 0 {
		builder.WriteString("\nConcerns:\n")
		for _, concern := range result.Concerns {
			fmt.Fprintf(&builder, "- %s\n", concern)
		}
	}

	return strings.TrimRight(builder.String(), "\n")
}

func inviteComment(sessionID string, pointers []string, outcome *mailer.Outcome, sendErr error) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Interview session %s created.\n", sessionID)

	switch {
	case sendErr != nil:
		fmt.Fprintf(&builder, "Invitation email failed: %v\n", sendErr)
	case outcome != nil && outcome.Skipped != "":
		fmt.Fprintf(&builder, "Invitation email skipped: %s\n", outcome.Skipped)
	}

	if len(pointers) > 0 {
		builder.WriteString("\nConversation pointers:\n")
		for _, pointer := range pointers {
			fmt.Fprintf(&builder, "- %s\n", pointer)
		}
	}

	return strings.TrimRight(builder.String(), "\n")
}
