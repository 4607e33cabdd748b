// Package mockapi is a development stand-in for the accounts API and the feedback service.
// Everything it receives is recorded in SQLite so it can be inspected afterwards.
package mockapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/feedback"
)

type Server struct {
	store  *Store
	logger zerolog.Logger
}

func NewServer(store *Store) (*Server, error) {
	if store == nil {
		return nil, errors.New("mockapi: store is nil")
	}
	return &Server{store: store, logger: log.With().Str("component", "mock-api").Logger()}, nil
}

// Handler routes the accounts and feedback endpoints. Every mutating route requires a bearer
// token; its value is not checked.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /organizations/{org}/two-factor", s.requireToken(s.handleOrg2FA))
	mux.HandleFunc("POST /service-accounts", s.requireToken(s.handleCreateServiceAccount))
	mux.HandleFunc("GET /service-accounts", s.handleListServiceAccounts)
	mux.HandleFunc("POST /conversations/{conv}/messages/{msg}/feedback", s.requireToken(s.handleFeedback))
	mux.HandleFunc("GET /feedback", s.handleListFeedback)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		auth := req.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		next(w, req)
	}
}

func (s *Server) handleOrg2FA(w http.ResponseWriter, req *http.Request) {
	org := req.PathValue("org")
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
		http.Error(w, "body must be {\"enabled\": bool}", http.StatusBadRequest)
		return
	}
	if err := s.store.SetOrg2FA(req.Context(), org, *body.Enabled); err != nil {
		s.logger.Error().Err(err).Str("org_id", org).Msg("store two-factor policy")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("org_id", org).Bool("enabled", *body.Enabled).Msg("two-factor policy updated")
	writeJSON(w, http.StatusOK, map[string]any{"orgId": org, "enabled": *body.Enabled})
}

func (s *Server) handleCreateServiceAccount(w http.ResponseWriter, req *http.Request) {
	var in commands.ServiceAccountRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		http.Error(w, "missing name", http.StatusBadRequest)
		return
	}
	rec := ServiceAccountRecord{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Environment: in.Environment,
		ClientID:    "sa-" + uuid.NewString()[:8],
	}
	if err := s.store.AddServiceAccount(req.Context(), rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			http.Error(w, "service account already exists", http.StatusConflict)
			return
		}
		s.logger.Error().Err(err).Str("name", in.Name).Msg("store service account")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("name", rec.Name).Str("client_id", rec.ClientID).Msg("service account created")
	writeJSON(w, http.StatusCreated, commands.ServiceAccount{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		ClientID:    rec.ClientID,
		Secret:      uuid.NewString(),
	})
}

func (s *Server) handleListServiceAccounts(w http.ResponseWriter, req *http.Request) {
	out, err := s.store.ListServiceAccounts(req.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list service accounts")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeedback(w http.ResponseWriter, req *http.Request) {
	var in feedback.Submission
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	rec, err := s.store.AddFeedback(req.Context(), FeedbackRecord{
		ConversationID:     req.PathValue("conv"),
		MessageID:          req.PathValue("msg"),
		Rating:             string(in.Rating),
		PredefinedResponse: in.PredefinedResponse,
		Freeform:           in.Freeform,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("store feedback")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("conversation_id", rec.ConversationID).Str("message_id", rec.MessageID).
		Str("rating", rec.Rating).Msg("feedback received")
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListFeedback(w http.ResponseWriter, req *http.Request) {
	out, err := s.store.ListFeedback(req.Context(), strings.TrimSpace(req.URL.Query().Get("conversation_id")))
	if err != nil {
		s.logger.Error().Err(err).Msg("list feedback")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
