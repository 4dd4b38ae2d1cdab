package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielkov/hireloop/internal/retry"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(zap.NewNop(), "test-token")
	client.APIURL = srv.URL

	return client, srv
}

func TestGetIssue(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/issues/iss-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token")
		}

		json.NewEncoder(w).Encode(&Issue{
			ID:     "iss-1",
			Title:  "Go Developer",
			Status: StatusTodo,
			Labels: []string{"New"},
		})
	})

	issue, err := client.GetIssue(context.Background(), "iss-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if issue.ID != "iss-1" || issue.Status != StatusTodo {
		t.Fatalf("unexpected issue: %+v", issue)
	}
	if !issue.HasLabel("New") || issue.HasLabel("Processed") {
		t.Fatalf("unexpected labels: %v", issue.Labels)
	}
}

func TestUpdateIssueSendsCompositePatch(t *testing.T) {
	var received IssuePatch
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode patch: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	status := StatusInProgress
	patch := &IssuePatch{Status: &status, Labels: []string{"Pre-screened"}}
	if err := client.UpdateIssue(context.Background(), "iss-1", patch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.Status == nil || *received.Status != StatusInProgress {
		t.Fatalf("status lost in transit: %+v", received)
	}
	if len(received.Labels) != 1 || received.Labels[0] != "Pre-screened" {
		t.Fatalf("labels lost in transit: %+v", received)
	}
}

func TestServerErrorsAreRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetIssue(context.Background(), "iss-1")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !retry.IsRetryable(err) {
		t.Fatalf("5xx responses must be retryable, got %v", err)
	}
}

func TestClientErrorsFailFast(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetIssue(context.Background(), "iss-1")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if retry.IsRetryable(err) {
		t.Fatalf("4xx responses must not be retried, got %v", err)
	}
}

func TestIssuePatchIsEmpty(t *testing.T) {
	if !(&IssuePatch{}).IsEmpty() {
		t.Fatalf("zero patch should be empty")
	}

	status := StatusTriage
	if (&IssuePatch{Status: &status}).IsEmpty() {
		t.Fatalf("patch with status is not empty")
	}
	if (&IssuePatch{Labels: []string{}}).IsEmpty() {
		t.Fatalf("patch replacing labels with an empty set is not empty")
	}
}
