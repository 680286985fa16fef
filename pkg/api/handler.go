// Package api exposes the chat, quota and admin endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shopassist/chatgate/pkg/chat"
	"github.com/shopassist/chatgate/pkg/localtime"
	"github.com/shopassist/chatgate/pkg/quota"
	"github.com/shopassist/chatgate/pkg/reset"
	"github.com/shopassist/chatgate/pkg/session"
)

const maxBodyBytes = 1 << 20

// Config holds handler dependencies.
type Config struct {
	Proxy     *chat.Proxy
	Engine    *quota.Engine
	Scheduler *reset.Scheduler
	Store     quota.Store
	Logger    quota.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	config Config
}

// NewHandler creates the API handler.
func NewHandler(config Config) (*Handler, error) {
	if config.Proxy == nil || config.Engine == nil || config.Scheduler == nil || config.Store == nil {
		return nil, fmt.Errorf("proxy, engine, scheduler and store are required")
	}
	if config.Logger == nil {
		config.Logger = &quota.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Routes mounts all endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/chat", h.Chat)
	r.Post("/v1/chat/stream", h.ChatStream)
	r.Get("/v1/quota", h.Quota)
	r.Post("/v1/admin/resets", h.AdminResets)
	r.Get("/healthz", h.Health)
	return r
}

// Chat serves one non-streaming chat turn.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, sess, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.config.Proxy.Respond(r.Context(), &chat.Request{
		TenantID:  sess.TenantID,
		SessionID: req.SessionID,
		Message:   req.Message,
		History:   req.ConversationHistory,
	})
	if err != nil {
		// Respond absorbs failures itself; anything surfacing here is a
		// programming error.
		h.config.Logger.Error("chat handler failed", quota.Field{Key: "error", Value: err.Error()})
		writeJSON(w, http.StatusOK, chat.Response{Response: "Sorry, something went wrong. Please try again."})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChatStream serves one chat turn as newline-delimited JSON frames, each
// flushed as soon as it is produced.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, sess, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	frames := h.config.Proxy.Stream(r.Context(), &chat.Request{
		TenantID:  sess.TenantID,
		SessionID: req.SessionID,
		Message:   req.Message,
		History:   req.ConversationHistory,
	})

	enc := json.NewEncoder(w)
	for frame := range frames {
		if err := enc.Encode(frame); err != nil {
			// Client went away; the proxy notices via r.Context().
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// Quota returns the tenant's current standing, including the countdown to
// its local midnight.
func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok || sess.TenantID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "tenant not resolved"})
		return
	}

	check, err := h.config.Engine.CheckLimits(r.Context(), sess.TenantID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "quota lookup failed"})
		return
	}
	if check.Subscription == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "subscription not found"})
		return
	}

	sub := check.Subscription
	tz := h.config.Engine.Timezone(sub)
	countdown, err := localtime.UntilMidnight(tz)
	if err != nil {
		countdown, _ = localtime.UntilMidnight("UTC")
	}

	writeJSON(w, http.StatusOK, usageResponse{
		TenantID:         sub.TenantID,
		Plan:             string(sub.Plan),
		Status:           string(sub.Status),
		DailyUsed:        sub.DailyUsed,
		DailyLimit:       sub.DailyLimit,
		DailyRemaining:   sub.DailyRemaining(),
		MonthlyUsed:      sub.MonthlyUsed,
		MonthlyLimit:     sub.MonthlyLimit,
		MonthlyRemaining: sub.MonthlyRemaining(),
		Timezone:         tz,
		DailyReset: dailyResetInfo{
			Hours:        countdown.Hours,
			Minutes:      countdown.Minutes,
			TotalSeconds: countdown.TotalSeconds,
		},
	})
}

// AdminResets executes a monthly reset batch. With no explicit id list it
// covers all eligible ACTIVE subscriptions.
func (h *Handler) AdminResets(w http.ResponseWriter, r *http.Request) {
	// An empty body means "all eligible ACTIVE subscriptions".
	var req resetRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	batch, err := h.config.Scheduler.ExecuteResetMany(r.Context(), req.SubscriptionIDs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "reset batch failed"})
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Health reports store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.config.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeChatRequest validates the inbound turn. A missing message or
// session id is the one condition answered with a non-2xx status.
func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chatRequest, *session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok || sess.TenantID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "tenant not resolved"})
		return nil, nil, false
	}

	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return nil, nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return nil, nil, false
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return nil, nil, false
	}

	return &req, sess, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
