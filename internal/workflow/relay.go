package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielkov/hireloop/internal/logger"
	"github.com/danielkov/hireloop/internal/mailer"
	"github.com/danielkov/hireloop/internal/retry"
	"github.com/danielkov/hireloop/internal/tracker"

	"go.uber.org/zap"
)

// replyPrefix marks a recruiter comment meant for the candidate's inbox.
// Everything else on the trace log stays internal.
const replyPrefix = "@reply"

// Relay forwards marked recruiter comments to the candidate by email. It is
// a separate correspondence flow: relaying never touches status or labels.
type Relay struct {
	store    RecordStore
	notifier Notifier
	logger   *zap.Logger
	policy   retry.Policy

	tenant string
	teamID string
}

func NewRelay(log *zap.Logger, store RecordStore, notifier Notifier, tenant, teamID string) *Relay {
	return &Relay{
		store:    store,
		notifier: notifier,
		logger:   log,
		policy:   retry.DefaultPolicy(),
		tenant:   tenant,
		teamID:   teamID,
	}
}

// RelayComment emails the comment body to the record's candidate when it
// carries the reply marker. Unmarked comments are ignored, which also keeps
// the engine's own trace comments from echoing back to candidates.
func (r *Relay) RelayComment(ctx context.Context, issueID, body string) error {
	text := strings.TrimSpace(body)
	if !strings.HasPrefix(text, replyPrefix) {
		return nil
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, replyPrefix))
	if text == "" {
		return nil
	}

	log := logger.WithIssue(r.logger, r.tenant, issueID)

	var issue *tracker.Issue
	err := retry.Do(ctx, log, "tracker.get_issue", r.policy, func(ctx context.Context) error {
		var err error
		issue, err = r.store.GetIssue(ctx, issueID)
		return err
	})
	if err != nil {
		return fmt.Errorf("get issue %s: %w", issueID, err)
	}

	if r.teamID != "" && issue.TeamID != r.teamID {
		log.Debug("comment outside the ATS team, ignoring")
		return nil
	}

	candidate, err := ParseCandidate(issue.Description)
	if err != nil {
		log.Warn("cannot relay comment", zap.Error(err))
		return nil
	}

	outcome, err := r.notifier.Send(ctx, mailer.KindReply, r.tenant, issue, mailer.Recipient{
		Name:   candidate.Name,
		Email:  candidate.Email,
		Thread: candidate.Thread,
	}, map[string]string{
		"Position": issue.Title,
		"Body":     text,
	})
	if err != nil {
		return fmt.Errorf("relay comment on %s: %w", issueID, err)
	}

	if outcome.Skipped != "" {
		log.Info("comment relay skipped", zap.String("reason", outcome.Skipped))
		return nil
	}

	log.Info("comment relayed to candidate", zap.String("message_id", outcome.MessageID))
	return nil
}
