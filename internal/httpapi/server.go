// Package httpapi exposes the coordinator over REST and mounts the
// websocket gateway. Handlers translate the coordinator error taxonomy
// into status codes; they hold no state of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/config"
	"github.com/ashik1291/customer-live-chat-system/internal/coordinator"
	"github.com/ashik1291/customer-live-chat-system/internal/gateway"
	"github.com/ashik1291/customer-live-chat-system/internal/identity"
)

// Server is the chatd HTTP server.
type Server struct {
	coord  *coordinator.Coordinator
	ids    *identity.Resolver
	gw     *gateway.Gateway
	cfg    config.ServerConfig
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the route table. gw may be nil when the realtime surface
// is disabled (doctor runs).
func NewServer(coord *coordinator.Coordinator, ids *identity.Resolver, gw *gateway.Gateway, cfg config.ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coord:  coord,
		ids:    ids,
		gw:     gw,
		cfg:    cfg,
		logger: logger.With("component", "httpapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/conversations", s.handleStart)
	mux.HandleFunc("POST /api/conversations/{id}/queue", s.handleQueue)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleCustomerClose)

	mux.HandleFunc("GET /api/agent/queue", s.requireAgent(s.handleAgentQueue))
	mux.HandleFunc("POST /api/agent/conversations/{id}/accept", s.requireAgent(s.handleAccept))
	mux.HandleFunc("GET /api/agent/conversations", s.requireAgent(s.handleAgentConversations))
	mux.HandleFunc("GET /api/agent/conversations/{id}/messages", s.requireAgent(s.handleAgentMessages))
	mux.HandleFunc("POST /api/agent/conversations/{id}/close", s.requireAgent(s.handleAgentClose))

	if gw != nil {
		mux.HandleFunc("GET /ws", gw.HandleWS)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until the context is cancelled, then shuts
// down within the configured grace period.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		grace := s.cfg.ShutdownGrace
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("http server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[strings.ToLower(origin)] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowed[strings.ToLower(origin)]; ok || len(allowed) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Participant-Id, X-Participant-Name")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAgent enforces bearer auth on the agent surface when agent tokens
// are configured. With no token table the deployment is open.
func (s *Server) requireAgent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AgentTokens) == 0 {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			writeError(w, chat.ErrUnauthorized)
			return
		}
		if _, err := s.ids.ResolveAgent(token, ""); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// --- Customer surface ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	participant, err := customerFromHeaders(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Attributes map[string]string `json:"attributes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	conv, err := s.coord.Start(r.Context(), participant, req.Attributes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Channel string `json:"channel"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Channel == "" {
		req.Channel = "web"
	}
	status, err := s.coord.QueueForAgent(r.Context(), r.PathValue("id"), req.Channel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.coord.RecentMessages(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID          string `json:"senderId"`
		SenderDisplayName string `json:"senderDisplayName"`
		SenderType        string `json:"senderType"`
		Content           string `json:"content"`
		Type              string `json:"type"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sender, err := s.ids.ResolveSender(req.SenderID, req.SenderDisplayName, req.SenderType)
	if err != nil {
		writeError(w, err)
		return
	}
	msgType, err := chat.ParseMessageType(req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := s.coord.SendMessage(r.Context(), r.PathValue("id"), sender, req.Content, msgType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleCustomerClose(w http.ResponseWriter, r *http.Request) {
	participant, err := customerFromHeaders(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := s.coord.Close(r.Context(), r.PathValue("id"), participant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// --- Agent surface ---

func (s *Server) handleAgentQueue(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 20)
	entries, err := s.coord.QueueSnapshotPage(r.Context(), page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agentId"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.ids.ResolveAgent(req.AgentID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := s.coord.Accept(r.Context(), agent, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleAgentConversations(w http.ResponseWriter, r *http.Request) {
	agentID := strings.TrimSpace(r.URL.Query().Get("agentId"))
	if agentID == "" {
		writeError(w, fmt.Errorf("%w: agentId query parameter required", chat.ErrInvalidArgument))
		return
	}
	var statuses []chat.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, err := chat.ParseStatus(part)
			if err != nil {
				writeError(w, err)
				return
			}
			statuses = append(statuses, status)
		}
	}
	convs, err := s.coord.ConversationsForAgent(r.Context(), agentID, statuses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleAgentMessages returns the tail of an assigned conversation. Only the
// owning agent may read it.
func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agentID := strings.TrimSpace(r.URL.Query().Get("agentId"))
	conv, err := s.coord.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv.Agent == nil || agentID == "" || conv.Agent.ID != agentID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "conversation is not assigned to this agent"})
		return
	}
	msgs, err := s.coord.RecentMessages(r.Context(), id, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAgentClose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string `json:"agentId"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.ids.ResolveAgent(req.AgentID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := s.coord.Close(r.Context(), r.PathValue("id"), agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// --- Helpers ---

var errBadBody = errors.New("invalid JSON body")

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

func customerFromHeaders(r *http.Request) (chat.Participant, error) {
	id := strings.TrimSpace(r.Header.Get("X-Participant-Id"))
	if id == "" {
		return chat.Participant{}, fmt.Errorf("%w: X-Participant-Id header required", chat.ErrUnauthorized)
	}
	name := strings.TrimSpace(r.Header.Get("X-Participant-Name"))
	if name == "" {
		name = "Customer"
	}
	return chat.Participant{ID: id, Type: chat.ParticipantCustomer, DisplayName: name}, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeError maps the coordinator error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadBody):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, chat.ErrAlreadyClosed),
		errors.Is(err, chat.ErrConflictOwner),
		errors.Is(err, chat.ErrNoLongerAvailable):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrAgentCapacity),
		errors.Is(err, chat.ErrInvalidArgument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrContention),
		errors.Is(err, chat.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
