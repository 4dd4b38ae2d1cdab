package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danielkov/hireloop/internal/ai"
	"github.com/danielkov/hireloop/internal/mailer"
	"github.com/danielkov/hireloop/internal/meter"
	"github.com/danielkov/hireloop/internal/tracker"

	"go.uber.org/zap"
)

type stubStore struct {
	issue       *tracker.Issue
	project     *tracker.Project
	projectErr  error
	attachments []*tracker.Attachment
	files       map[string][]byte

	updates  []*tracker.IssuePatch
	comments []string
}

func (s *stubStore) GetIssue(_ context.Context, _ string) (*tracker.Issue, error) {
	return s.issue, nil
}

func (s *stubStore) UpdateIssue(_ context.Context, _ string, patch *tracker.IssuePatch) error {
	s.updates = append(s.updates, patch)
	return nil
}

func (s *stubStore) AddComment(_ context.Context, _, body string) (*tracker.Comment, error) {
	s.comments = append(s.comments, body)
	return &tracker.Comment{ID: "c1", Body: body}, nil
}

func (s *stubStore) GetAttachments(_ context.Context, _ string) ([]*tracker.Attachment, error) {
	return s.attachments, nil
}

func (s *stubStore) GetProject(_ context.Context, _ string) (*tracker.Project, error) {
	if s.projectErr != nil {
		return nil, s.projectErr
	}
	return s.project, nil
}

func (s *stubStore) Download(_ context.Context, url string) ([]byte, error) {
	data, ok := s.files[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type stubScreener struct {
	result   *ai.ScreeningResult
	err      error
	pointers []string

	scoreCalls int
}

func (s *stubScreener) Score(_ context.Context, _, _ string) (*ai.ScreeningResult, error) {
	s.scoreCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubScreener) GeneratePointers(_ context.Context, _, _ string) ([]string, error) {
	return s.pointers, nil
}

type stubGuard struct {
	result meter.Result

	reserveCalls int
	usage        chan map[string]string
}

func newStubGuard(result meter.Result) *stubGuard {
	return &stubGuard{result: result, usage: make(chan map[string]string, 1)}
}

func (g *stubGuard) CheckAndReserve(_ context.Context, _, _ string) meter.Result {
	g.reserveCalls++
	return g.result
}

func (g *stubGuard) RecordUsage(_ context.Context, _, _ string, metadata map[string]string) {
	g.usage <- metadata
}

type stubNotifier struct {
	outcome *mailer.Outcome
	err     error

	kinds []mailer.Kind
}

func (n *stubNotifier) Send(_ context.Context, kind mailer.Kind, _ string, _ *tracker.Issue, _ mailer.Recipient, _ map[string]string) (*mailer.Outcome, error) {
	n.kinds = append(n.kinds, kind)
	if n.err != nil {
		return nil, n.err
	}
	return n.outcome, nil
}

type stubExtractor struct{}

func (stubExtractor) ExtractText(_ string, data []byte) (string, error) {
	return string(data), nil
}

const candidateMeta = `<!-- candidate:v1 {"name":"Ada","email":"ada@example.com","thread":"th-1"} -->`

func newTestEngine(store *stubStore, screener *stubScreener, guard *stubGuard, notifier *stubNotifier) *Engine {
	return NewEngine(zap.NewNop(), store, screener, guard, notifier, stubExtractor{}, "acme", "team-1")
}

func acceptingProject() *tracker.Project {
	return &tracker.Project{
		ID:      "p1",
		Name:    "Go Developer",
		Status:  tracker.ProjectStatusInProgress,
		Content: "We need a Go developer.",
	}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		status   string
		labels   []string
		expected transition
	}{
		{"new record", tracker.StatusTodo, []string{"New"}, transitionParseDocuments},
		{"processed record", tracker.StatusTodo, []string{"Processed"}, transitionScreen},
		{"invite pending", tracker.StatusInProgress, []string{"Pre-screened"}, transitionInvite},
		{"invite already sent", tracker.StatusInProgress, []string{"Pre-screened", "Screening-Invitation-Sent"}, transitionNone},
		{"rejection pending", tracker.StatusDeclined, nil, transitionReject},
		{"rejection already sent", tracker.StatusDeclined, []string{"Rejection-Email-Sent"}, transitionNone},
		{"triage is terminal", tracker.StatusTriage, []string{"Processed"}, transitionNone},
		{"todo without workflow labels", tracker.StatusTodo, []string{"urgent"}, transitionNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decide(tc.status, ParseLabels(tc.labels))
			if got != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestStatusForIsTotal(t *testing.T) {
	if got := statusFor(ai.ConfidenceHigh); got != tracker.StatusInProgress {
		t.Fatalf("high: expected %s, got %s", tracker.StatusInProgress, got)
	}
	if got := statusFor(ai.ConfidenceLow); got != tracker.StatusDeclined {
		t.Fatalf("low: expected %s, got %s", tracker.StatusDeclined, got)
	}
	if got := statusFor(ai.ConfidenceAmbiguous); got != tracker.StatusTriage {
		t.Fatalf("ambiguous: expected %s, got %s", tracker.StatusTriage, got)
	}
	if got := statusFor(ai.Confidence("garbage")); got != tracker.StatusTriage {
		t.Fatalf("unknown: expected %s, got %s", tracker.StatusTriage, got)
	}
}

func TestProcessParsesDocuments(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Title:       "Go Developer",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			Description: candidateMeta,
			Labels:      []string{"New", "referral"},
		},
		attachments: []*tracker.Attachment{
			{ID: "a1", Title: "cv.pdf", URL: "https://files/cv.pdf"},
			{ID: "a2", Title: "photo.png", URL: "https://files/photo.png"},
		},
		files: map[string][]byte{"https://files/cv.pdf": []byte("ten years of Go")},
	}
	engine := newTestEngine(store, &stubScreener{}, newStubGuard(meter.Result{Allowed: true}), &stubNotifier{})

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(store.updates))
	}

	patch := store.updates[0]
	if patch.Status != nil {
		t.Fatalf("document parsing must not change status, got %q", *patch.Status)
	}
	if patch.Description == nil || !strings.Contains(*patch.Description, "ten years of Go") {
		t.Fatalf("expected parsed text in description, got %v", patch.Description)
	}
	if !strings.Contains(*patch.Description, candidateMeta) {
		t.Fatalf("metadata block must survive the rewrite")
	}

	labels := ParseLabels(patch.Labels)
	if labels.Has(LabelNew) || !labels.Has(LabelProcessed) {
		t.Fatalf("expected New to advance to Processed, got %v", patch.Labels)
	}
	if !labels.Has("referral") {
		t.Fatalf("foreign label dropped from patch: %v", patch.Labels)
	}

	if len(store.comments) != 1 || !strings.Contains(store.comments[0], "Parsed 1 of 2") {
		t.Fatalf("unexpected trace comments: %v", store.comments)
	}
}

func TestProcessScreensHighConfidence(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			ProjectID:   "p1",
			Description: candidateMeta + "\nSenior engineer.",
			Labels:      []string{"Processed"},
		},
		project: acceptingProject(),
	}
	screener := &stubScreener{result: &ai.ScreeningResult{
		Confidence: ai.ConfidenceHigh,
		Reasoning:  "Strong match",
	}}
	guard := newStubGuard(meter.Result{Allowed: true, Balance: 4})
	notifier := &stubNotifier{}
	engine := newTestEngine(store, screener, guard, notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(store.updates))
	}

	patch := store.updates[0]
	if patch.Status == nil || *patch.Status != tracker.StatusInProgress {
		t.Fatalf("expected status %s, got %v", tracker.StatusInProgress, patch.Status)
	}

	labels := ParseLabels(patch.Labels)
	if labels.Has(LabelProcessed) || !labels.Has(LabelPreScreened) {
		t.Fatalf("expected Processed to advance to Pre-screened, got %v", patch.Labels)
	}

	if guard.reserveCalls != 1 {
		t.Fatalf("expected one reservation, got %d", guard.reserveCalls)
	}

	select {
	case metadata := <-guard.usage:
		if metadata["confidence"] != "high" {
			t.Fatalf("unexpected usage metadata: %v", metadata)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a usage event")
	}

	// Screening decides the status; notifications belong to later transitions.
	if len(notifier.kinds) != 0 {
		t.Fatalf("screening must not send email, sent %v", notifier.kinds)
	}
}

func TestProcessScreensLowConfidence(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			ProjectID:   "p1",
			Description: candidateMeta + "\nJunior.",
			Labels:      []string{"Processed"},
		},
		project: acceptingProject(),
	}
	screener := &stubScreener{result: &ai.ScreeningResult{Confidence: ai.ConfidenceLow}}
	guard := newStubGuard(meter.Result{Allowed: true})
	engine := newTestEngine(store, screener, guard, &stubNotifier{})

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	patch := store.updates[0]
	if patch.Status == nil || *patch.Status != tracker.StatusDeclined {
		t.Fatalf("expected status %s, got %v", tracker.StatusDeclined, patch.Status)
	}
	<-guard.usage
}

func TestProcessScreeningQuotaExhausted(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			ProjectID:   "p1",
			Description: candidateMeta + "\nSenior engineer.",
			Labels:      []string{"Processed"},
		},
		project: acceptingProject(),
	}
	screener := &stubScreener{result: &ai.ScreeningResult{Confidence: ai.ConfidenceHigh}}
	guard := newStubGuard(meter.Result{Allowed: false, Balance: 0})
	engine := newTestEngine(store, screener, guard, &stubNotifier{})

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if screener.scoreCalls != 0 {
		t.Fatalf("exhausted quota must not reach the model")
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(store.updates))
	}
	patch := store.updates[0]
	if patch.Status == nil || *patch.Status != tracker.StatusTriage {
		t.Fatalf("expected status %s, got %v", tracker.StatusTriage, patch.Status)
	}
	if !ParseLabels(patch.Labels).Has(LabelPreScreened) {
		t.Fatalf("labels must advance even on the triage path, got %v", patch.Labels)
	}

	if len(store.comments) != 1 || !strings.Contains(store.comments[0], "quota exhausted") {
		t.Fatalf("unexpected trace comments: %v", store.comments)
	}
}

func TestProcessScreeningFailureRoutesToTriage(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			ProjectID:   "p1",
			Description: candidateMeta + "\nSenior engineer.",
			Labels:      []string{"Processed"},
		},
		project: acceptingProject(),
	}
	screener := &stubScreener{err: errors.New("model unavailable")}
	engine := newTestEngine(store, screener, newStubGuard(meter.Result{Allowed: true}), &stubNotifier{})

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("AI failure must not fail the delivery: %v", err)
	}

	patch := store.updates[0]
	if patch.Status == nil || *patch.Status != tracker.StatusTriage {
		t.Fatalf("expected status %s, got %v", tracker.StatusTriage, patch.Status)
	}
}

func TestProcessScreeningWithoutPostingRoutesToTriage(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusTodo,
			TeamID:      "team-1",
			Description: candidateMeta + "\nSenior engineer.",
			Labels:      []string{"Processed"},
		},
	}
	guard := newStubGuard(meter.Result{Allowed: true})
	engine := newTestEngine(store, &stubScreener{}, guard, &stubNotifier{})

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if guard.reserveCalls != 0 {
		t.Fatalf("missing inputs must not consume quota")
	}
	patch := store.updates[0]
	if patch.Status == nil || *patch.Status != tracker.StatusTriage {
		t.Fatalf("expected status %s, got %v", tracker.StatusTriage, patch.Status)
	}
}

func TestProcessInvitesCandidate(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Title:       "Go Developer",
			Status:      tracker.StatusInProgress,
			TeamID:      "team-1",
			ProjectID:   "p1",
			Description: candidateMeta + "\nSenior engineer.",
			Labels:      []string{"Pre-screened"},
		},
		project: acceptingProject(),
	}
	notifier := &stubNotifier{outcome: &mailer.Outcome{Sent: true, MessageID: "m1"}}
	engine := newTestEngine(store, &stubScreener{pointers: []string{"Ask about Go"}}, newStubGuard(meter.Result{Allowed: true}), notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.kinds) != 1 || notifier.kinds[0] != mailer.KindInvitation {
		t.Fatalf("expected one invitation send, got %v", notifier.kinds)
	}

	if len(store.updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(store.updates))
	}
	patch := store.updates[0]
	if patch.Status != nil {
		t.Fatalf("invitation must not change status")
	}
	if !ParseLabels(patch.Labels).Has(LabelScreeningInvitationSent) {
		t.Fatalf("expected invitation label, got %v", patch.Labels)
	}

	if len(store.comments) != 1 || !strings.Contains(store.comments[0], "Interview session") {
		t.Fatalf("unexpected trace comments: %v", store.comments)
	}
	if !strings.Contains(store.comments[0], "Ask about Go") {
		t.Fatalf("expected pointers in the trace comment: %v", store.comments)
	}
}

func TestProcessInviteWithoutMetadataStillAdvances(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusInProgress,
			TeamID:      "team-1",
			Description: "no metadata here",
			Labels:      []string{"Pre-screened"},
		},
	}
	notifier := &stubNotifier{}
	engine := newTestEngine(store, &stubScreener{}, newStubGuard(meter.Result{Allowed: true}), notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.kinds) != 0 {
		t.Fatalf("no metadata means no email, sent %v", notifier.kinds)
	}
	if len(store.updates) != 1 || !ParseLabels(store.updates[0].Labels).Has(LabelScreeningInvitationSent) {
		t.Fatalf("label must advance so the record cannot loop, got %v", store.updates)
	}
}

func TestProcessRejectsCandidate(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Title:       "Go Developer",
			Status:      tracker.StatusDeclined,
			TeamID:      "team-1",
			Description: candidateMeta,
		},
	}
	notifier := &stubNotifier{outcome: &mailer.Outcome{Sent: true, MessageID: "m1"}}
	engine := newTestEngine(store, &stubScreener{}, newStubGuard(meter.Result{Allowed: true}), notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.kinds) != 1 || notifier.kinds[0] != mailer.KindRejection {
		t.Fatalf("expected one rejection send, got %v", notifier.kinds)
	}
	if len(store.updates) != 1 || !ParseLabels(store.updates[0].Labels).Has(LabelRejectionEmailSent) {
		t.Fatalf("expected rejection label in the single update, got %v", store.updates)
	}
}

func TestProcessRejectedTwiceIsNoop(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:          "iss-1",
			Status:      tracker.StatusDeclined,
			TeamID:      "team-1",
			Description: candidateMeta,
			Labels:      []string{"Rejection-Email-Sent"},
		},
	}
	notifier := &stubNotifier{}
	engine := newTestEngine(store, &stubScreener{}, newStubGuard(meter.Result{Allowed: true}), notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 0 {
		t.Fatalf("duplicate delivery must not mutate the record, got %d updates", len(store.updates))
	}
	if len(notifier.kinds) != 0 {
		t.Fatalf("duplicate delivery must not resend email, sent %v", notifier.kinds)
	}
}

func TestProcessIgnoresForeignTeam(t *testing.T) {
	store := &stubStore{
		issue: &tracker.Issue{
			ID:     "iss-1",
			Status: tracker.StatusDeclined,
			TeamID: "other-team",
		},
	}
	notifier := &stubNotifier{}
	engine := newTestEngine(store, &stubScreener{}, newStubGuard(meter.Result{Allowed: true}), notifier)

	if err := engine.Process(context.Background(), "iss-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.updates) != 0 || len(notifier.kinds) != 0 {
		t.Fatalf("records outside the team must be left alone")
	}
}
