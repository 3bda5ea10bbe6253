// Package app exposes the enrolment engine over HTTP and runs the
// background workers. The engine itself stays transport-agnostic; this
// package is the glue between the outside world and the domain.
package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/engine"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// Server routes completion hooks and rule queries to the engine.
type Server struct {
	engine   *engine.Engine
	resolver *engine.PathResolver
	rules    storage.RuleStore
	router   chi.Router
}

// NewServer builds the HTTP surface over the engine and rule store.
func NewServer(eng *engine.Engine, rules storage.RuleStore) *Server {
	s := &Server{
		engine:   eng,
		resolver: engine.NewPathResolver(rules),
		rules:    rules,
		router:   chi.NewRouter(),
	}

	s.router.Post("/hooks/completions", s.handleCompletion)
	s.router.Post("/hooks/units/{unitID}/deleted", s.handleUnitDeleted)
	s.router.Get("/rules/{ruleID}/path", s.handleRulePath)
	s.router.Get("/healthz", s.handleHealth)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type completionRequest struct {
	UnitID string `json:"unitId"`
	UserID string `json:"userId"`
}

type outcomeResponse struct {
	RuleID string `json:"ruleId"`
	Status string `json:"status"`
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: {\"unitId\":\"...\",\"userId\":\"...\"}", http.StatusBadRequest)
		return
	}

	outcomes, err := s.engine.OnCompletion(r.Context(), domain.CompletionSignal{
		UnitID: req.UnitID,
		UserID: req.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]outcomeResponse, 0, len(outcomes))
	for _, outcome := range outcomes {
		resp = append(resp, outcomeResponse{RuleID: outcome.RuleID, Status: string(outcome.Status)})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleUnitDeleted(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	if err := s.engine.OnUnitDeleted(r.Context(), unitID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rulePathResponse struct {
	RuleID string   `json:"ruleId"`
	Path   []string `json:"path"`
}

func (s *Server) handleRulePath(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleID")

	rule, err := s.rules.GetRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	path, err := s.resolver.BuildPath(r.Context(), rule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rulePathResponse{RuleID: rule.ID, Path: path})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		log.Printf("write health response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write json response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		http.Error(w, appErr.Message, appErr.Code.HTTPStatus())
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
