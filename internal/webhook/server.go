// Package webhook receives the tracker's change notifications, authenticates
// them, and routes them by entity type and action. It is deliberately
// stateless: every delivery is an independent short-lived task.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	headerSignature = "X-Tracker-Signature"
	headerTimestamp = "X-Tracker-Timestamp"

	maxBodyBytes = 1 << 20
)

// IssueProcessor runs the transition engine for one record.
type IssueProcessor interface {
	Process(ctx context.Context, issueID string) error
}

// CommentRelay handles the correspondence flow for new comments.
type CommentRelay interface {
	RelayComment(ctx context.Context, issueID, body string) error
}

type Server struct {
	logger *zap.Logger
	secret string
	engine IssueProcessor
	relay  CommentRelay
	schema *jsonschema.Schema

	now func() time.Time

	limiterMu sync.Mutex
	limiters  map[string]*limiterEntry
	rateLimit rate.Limit
	rateBurst int

	registry    *prometheus.Registry
	events      *prometheus.CounterVec
	rejected    prometheus.Counter
	handlerErrs prometheus.Counter
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewServer(logger *zap.Logger, secret string, engine IssueProcessor, relay CommentRelay) (*Server, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hireloop_webhook_events_total",
		Help: "Webhook deliveries accepted, by entity type and action.",
	}, []string{"type", "action"})

	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hireloop_webhook_rejected_total",
		Help: "Deliveries rejected before routing (auth or payload failures).",
	})

	handlerErrs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hireloop_webhook_handler_errors_total",
		Help: "Routed deliveries whose handler returned an error.",
	})

	registry.MustRegister(events, rejected, handlerErrs)

	return &Server{
		logger:      logger,
		secret:      secret,
		engine:      engine,
		relay:       relay,
		schema:      schema,
		now:         time.Now,
		limiters:    make(map[string]*limiterEntry),
		rateLimit:   rate.Limit(20),
		rateBurst:   40,
		registry:    registry,
		events:      events,
		rejected:    rejected,
		handlerErrs: handlerErrs,
	}, nil
}

// Handler returns the HTTP surface: the webhook endpoint plus health and
// metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]bool{"success": false})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.rejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]bool{"success": false})
		return
	}

	if err := verifySignature(s.secret, r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body, s.now()); err != nil {
		s.rejected.Inc()
		s.logger.Warn("rejected webhook delivery", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"success": false})
		return
	}

	if err := validatePayload(s.schema, body); err != nil {
		s.rejected.Inc()
		s.logger.Warn("webhook payload failed validation", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]bool{"success": false})
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		s.rejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]bool{"success": false})
		return
	}

	s.events.WithLabelValues(event.Type, event.Action).Inc()

	// Business failures are acknowledged with success: the upstream transport
	// redelivers on non-2xx, and redelivery cannot fix a handler error the
	// engine already routed to triage or logged.
	if err := s.route(r.Context(), &event); err != nil {
		s.handlerErrs.Inc()
		s.logger.Error("webhook handler failed",
			zap.String("type", event.Type),
			zap.String("action", event.Action),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) route(ctx context.Context, event *Event) error {
	switch {
	case event.Type == TypeIssue && (event.Action == ActionCreate || event.Action == ActionUpdate):
		issue, err := decodeIssueData(event.Data)
		if err != nil {
			return fmt.Errorf("decode issue data: %w", err)
		}
		return s.engine.Process(ctx, issue.ID)

	case event.Type == TypeComment && event.Action == ActionCreate:
		comment, err := decodeCommentData(event.Data)
		if err != nil {
			return fmt.Errorf("decode comment data: %w", err)
		}
		if comment.IssueID == "" {
			s.logger.Debug("comment event without issue, ignoring", zap.String("comment_id", comment.ID))
			return nil
		}
		return s.relay.RelayComment(ctx, comment.IssueID, comment.Body)

	case event.Type == TypeProject:
		// Publication pipeline lives elsewhere; the event is only logged.
		s.logger.Info("project event acknowledged",
			zap.String("action", event.Action),
		)
		return nil

	default:
		// Unroutable events are acknowledged so the upstream does not enter
		// a redelivery storm over something we will never handle.
		s.logger.Info("unroutable webhook event, ignoring",
			zap.String("type", event.Type),
			zap.String("action", event.Action),
		)
		return nil
	}
}

// allow applies a per-sender token bucket. Limiter entries expire so the map
// cannot grow without bound.
func (s *Server) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	now := s.now()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > 10*time.Minute {
			delete(s.limiters, key)
		}
	}

	entry, ok := s.limiters[host]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rateLimit, s.rateBurst)}
		s.limiters[host] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
