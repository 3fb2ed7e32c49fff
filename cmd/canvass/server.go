package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/canvass/canvass/internal/authoring"
	"github.com/canvass/canvass/internal/logging"
	"github.com/canvass/canvass/internal/runtime"
	"github.com/canvass/canvass/internal/store"
	"github.com/canvass/canvass/pkg/schema"
)

// Server exposes the engine operations over a thin JSON API.
type Server struct {
	svc      *runtime.Service
	importer *authoring.Importer
	store    store.Store
	logger   *slog.Logger
}

// NewServer wires handlers over the runtime service and importer.
func NewServer(svc *runtime.Service, importer *authoring.Importer, st store.Store, logger *slog.Logger) *Server {
	return &Server{svc: svc, importer: importer, store: st, logger: logger}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Authoring.
	mux.HandleFunc("POST /api/surveys", s.handleImportSurvey)
	mux.HandleFunc("DELETE /api/surveys/{id}", s.handleDeleteSurvey)

	// Sessions.
	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/answers", s.handleRecordAnswer)
	mux.HandleFunc("POST /api/sessions/{id}/advance", s.handleAdvance)
	mux.HandleFunc("GET /api/sessions/{id}/next", s.handleResolveNext)
	mux.HandleFunc("POST /api/sessions/{id}/abandon", s.handleAbandon)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleListEvents)

	// Engine queries.
	mux.HandleFunc("GET /api/sessions/{id}/expressions/{expressionID}", s.handleEvaluate)
	mux.HandleFunc("GET /api/sessions/{id}/pages/{pageID}/order", s.handleQuestionOrder)
	mux.HandleFunc("GET /api/sessions/{id}/questions/{questionID}/order", s.handleOptionOrder)
	mux.HandleFunc("GET /api/sessions/{id}/questions/{questionID}/prompt", s.handlePrompt)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleImportSurvey(w http.ResponseWriter, r *http.Request) {
	var def schema.SurveyDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "invalid JSON body").WithCause(err))
		return
	}

	survey, result, err := s.importer.Import(r.Context(), &def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"survey":   survey,
		"warnings": result.Warnings,
	})
}

func (s *Server) handleDeleteSurvey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSurvey(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SurveyID string `json:"survey_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SurveyID == "" {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "survey_id is required"))
		return
	}

	sess, err := s.svc.StartSession(r.Context(), req.SurveyID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRecordAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QuestionID string             `json:"question_id"`
		Value      schema.AnswerValue `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		s.writeError(w, r, schema.NewError(schema.ErrCodeValidation, "question_id and value are required"))
		return
	}

	ctx := logging.WithQuestionID(r.Context(), req.QuestionID)
	if err := s.svc.RecordAnswer(ctx, r.PathValue("id"), req.QuestionID, req.Value); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	pos, err := s.svc.Advance(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleResolveNext(w http.ResponseWriter, r *http.Request) {
	pos, err := s.svc.ResolveNext(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.AbandonSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResumeSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListSessionEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	matched, err := s.svc.EvaluateExpression(r.Context(), r.PathValue("id"), r.PathValue("expressionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

func (s *Server) handleQuestionOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.QuestionOrder(r.Context(), r.PathValue("id"), r.PathValue("pageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (s *Server) handleOptionOrder(w http.ResponseWriter, r *http.Request) {
	set := r.URL.Query().Get("set")
	if set == "" {
		set = "options"
	}
	order, err := s.svc.OptionOrder(r.Context(), r.PathValue("id"), r.PathValue("questionID"), set)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.svc.RenderPrompt(r.Context(), r.PathValue("id"), r.PathValue("questionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps structured error codes to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"code": schema.ErrCodeStore, "message": err.Error()}

	var ce *schema.CanvassError
	if errors.As(err, &ce) {
		body["code"] = ce.Code
		body["message"] = ce.Message
		if len(ce.Details) > 0 {
			body["details"] = ce.Details
		}
		switch ce.Code {
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeValidation, schema.ErrCodeCompile, schema.ErrCodeInterpolation:
			status = http.StatusBadRequest
		case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
			status = http.StatusConflict
		case schema.ErrCodeHopLimit:
			status = http.StatusUnprocessableEntity
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}
