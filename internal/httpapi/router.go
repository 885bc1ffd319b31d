package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/screening"
)

type RouterConfig struct {
	// PublicBaseURL prefixes Gather actions so Twilio posts back to the right
	// host. Empty keeps actions relative.
	PublicBaseURL string

	// OperatorJWTSecret protects the inspection endpoints. Empty leaves them open.
	OperatorJWTSecret string
}

// Screener runs the call state machine behind the webhooks.
type Screener interface {
	HandleInbound(ctx context.Context, ev screening.InboundCall) (screening.Result, error)
	HandleSpeech(ctx context.Context, ev screening.SpeechResult) (screening.Result, error)
	HandleStatus(ctx context.Context, ev screening.StatusUpdate) (screening.Result, error)

	Session(id string) (conversation.Session, bool)
	Sessions() []conversation.Session
	Stats() screening.Stats
}

// WebhookObserver counts handled webhooks.
type WebhookObserver interface {
	WebhookHandled(event, status string)
}

// Deps are the collaborators of a Router. Screener and Calls are required.
type Deps struct {
	Screener Screener
	Calls    *CallRegistry
	Feed     *Feed
	Metrics  WebhookObserver
	// MetricsHandler serves GET /metrics when set.
	MetricsHandler http.Handler
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	screener Screener
	calls    *CallRegistry
	feed     *Feed
	metrics  WebhookObserver
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, deps Deps) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		screener: deps.Screener,
		calls:    deps.Calls,
		feed:     deps.Feed,
		metrics:  deps.Metrics,
		mux:      http.NewServeMux(),
	}
	if r.calls == nil {
		r.calls = NewCallRegistry()
	}
	if r.metrics == nil {
		r.metrics = nopWebhookObserver{}
	}

	r.routes(deps.MetricsHandler)
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes(metricsHandler http.Handler) {
	r.mux.HandleFunc("GET /{$}", r.handleRoot)

	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Twilio webhooks
	r.mux.HandleFunc("POST /voice/incoming", r.handleVoiceIncoming)
	r.mux.HandleFunc("POST /voice/process-speech", r.handleProcessSpeech)
	r.mux.HandleFunc("POST /voice/status", r.handleVoiceStatus)

	if metricsHandler != nil {
		r.mux.Handle("GET /metrics", metricsHandler)
	}

	// Operator inspection
	r.mux.HandleFunc("GET /conversations", r.withOperator(r.handleListConversations))
	r.mux.HandleFunc("GET /conversations/stream", r.withOperator(r.handleConversationStream))
	r.mux.HandleFunc("GET /conversations/{id}", r.withOperator(r.handleGetConversation))
	r.mux.HandleFunc("GET /stats", r.withOperator(r.handleStats))
}

func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	codes := make([]string, 0, len(lang.Supported()))
	for _, l := range lang.Supported() {
		codes = append(codes, l.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"message":   "callguard is screening calls",
		"languages": codes,
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.calls.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

type nopWebhookObserver struct{}

func (nopWebhookObserver) WebhookHandled(string, string) {}
