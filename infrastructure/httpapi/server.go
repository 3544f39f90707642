// Package httpapi serves the request/response half of the protocol: the
// history snapshot the widget fetches after a reconnect, plus the agent
// console endpoints (login, search).
package httpapi

import (
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"assist-chat/auth"
	"assist-chat/domain"
	"assist-chat/errors"
	"assist-chat/search"
	"assist-chat/wire"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const defaultSearchLimit = 20

// Historian is the slice of the session manager the HTTP layer needs.
type Historian interface {
	History(id uuid.UUID) ([]domain.Message, error)
}

// Server exposes the HTTP endpoints next to the websocket gateway.
type Server struct {
	log           *slog.Logger
	historian     Historian
	index         *search.MessageIndex
	issuer        *auth.TokenIssuer
	adminEmail    string
	adminPassword string // argon2 encoded hash
}

func NewServer(log *slog.Logger, historian Historian, index *search.MessageIndex,
	issuer *auth.TokenIssuer, adminEmail, adminPasswordHash string) *Server {
	return &Server{
		log:           log,
		historian:     historian,
		index:         index,
		issuer:        issuer,
		adminEmail:    adminEmail,
		adminPassword: adminPasswordHash,
	}
}

// Register mounts the handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /messages", s.handleMessages)
	mux.HandleFunc("POST /admin/login", s.handleLogin)
	mux.HandleFunc("GET /admin/search", s.requireToken(s.handleSearch))
}

// handleMessages returns the ordered snapshot of a conversation. A missing
// parameter is 400 and an unknown conversation 404; the widget treats both
// as "discard the stored id and start fresh".
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("conversationId")
	if raw == "" {
		http.Error(w, "conversationId is required", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "conversationId is malformed", http.StatusBadRequest)
		return
	}

	messages, err := s.historian.History(id)
	if err != nil {
		if goerrors.Is(err, errors.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		s.log.Error("History lookup failed", "conversationId", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	deliveries := lo.Map(messages, func(m domain.Message, _ int) wire.MessageDelivery {
		return wire.MessageDelivery{
			ID:             m.ID.String(),
			ConversationID: m.ConversationID.String(),
			Sender:         string(m.Sender),
			Text:           m.Text,
			CreatedAt:      m.CreatedAt,
		}
	})
	// The widget expects an array even when the conversation is empty.
	if deliveries == nil {
		deliveries = []wire.MessageDelivery{}
	}
	s.writeJSON(w, http.StatusOK, deliveries)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := auth.ValidateLogin(req); err != nil {
		http.Error(w, "invalid credentials", http.StatusBadRequest)
		return
	}

	if err := s.authenticate(req); err != nil {
		if goerrors.Is(err, errors.ErrInvalidCredentials) {
			http.Error(w, errors.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
			return
		}
		s.log.Error("Credential check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := s.issuer.Generate(req.Email)
	if err != nil {
		s.log.Error("Token generation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// authenticate checks the agent credentials against the configured admin
// account. A wrong email and a wrong password are indistinguishable.
func (s *Server) authenticate(req auth.LoginRequest) error {
	ok, err := auth.ComparePassword(req.Password, s.adminPassword)
	if err != nil {
		return err
	}
	if !ok || req.Email != s.adminEmail {
		return errors.ErrInvalidCredentials
	}
	return nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required", http.StatusBadRequest)
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit is malformed", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	hits, err := s.index.Search(r.Context(), query, r.URL.Query().Get("conversationId"), limit)
	if err != nil {
		s.log.Error("Search failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	s.writeJSON(w, http.StatusOK, hits)
}

// requireToken guards agent endpoints with a bearer token.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := s.issuer.Validate(token[len(prefix):]); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Failed to encode response", "error", err)
	}
}
