package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kenes-ai/kenes/internal/observability"
	"github.com/kenes-ai/kenes/internal/runtime"
	"github.com/kenes-ai/kenes/internal/tenant"
)

// Server exposes the gateway over HTTP: channel webhooks, a direct
// message endpoint for web clients, health and metrics.
type Server struct {
	gateway  *Gateway
	notifier *TelegramNotifier
	logger   *observability.Logger
	server   *http.Server
}

// NewServer builds the HTTP surface. notifier may be nil when no
// Telegram credentials are configured; the webhook route still accepts
// updates, it just cannot learn chats for proactive delivery.
func NewServer(addr string, gw *Gateway, notifier *TelegramNotifier, registry *prometheus.Registry, logger *observability.Logger) *Server {
	s := &Server{gateway: gw, notifier: notifier, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/telegram/{tenant}", s.handleTelegramWebhook)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type replyResponse struct {
	Reply   string `json:"reply,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleTelegramWebhook ingests one webhook update. Unprocessable
// updates (no text message) are acknowledged with 200 so Telegram stops
// retrying them.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("tenant"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, replyResponse{Error: "invalid tenant id"})
		return
	}

	var update tgmodels.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, replyResponse{Error: "invalid update payload"})
		return
	}

	ev, ok := telegramEvent(tenantID, &update)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s.notifier != nil && update.Message != nil {
		s.notifier.Bind(tenantID, update.Message.Chat.ID)
	}

	reply, err := s.gateway.Handle(r.Context(), ev)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

type messageRequest struct {
	TenantID        string `json:"tenant_id"`
	Source          string `json:"source,omitempty"`
	DedupeKey       string `json:"dedupe_key,omitempty"`
	Message         string `json:"message"`
	ContextSummary  string `json:"context_summary,omitempty"`
	ConversationRef string `json:"conversation_ref,omitempty"`
}

// handleMessage is the direct entry point for web clients and internal
// tooling.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, replyResponse{Error: "invalid request body"})
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, replyResponse{Error: "invalid tenant id"})
		return
	}
	source := runtime.Source(req.Source)
	if source == "" {
		source = runtime.SourceWeb
	}

	reply, err := s.gateway.Handle(r.Context(), runtime.InboundEvent{
		TenantID:        tenantID,
		Source:          source,
		DedupeKey:       req.DedupeKey,
		Message:         req.Message,
		ContextSummary:  req.ContextSummary,
		ConversationRef: req.ConversationRef,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runtime.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, replyResponse{Error: "message must not be empty"})
	case errors.Is(err, tenant.ErrNotFound):
		writeJSON(w, http.StatusNotFound, replyResponse{Error: "unknown tenant"})
	default:
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, replyResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
