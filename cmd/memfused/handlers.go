package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/memfuse/memfuse"
	"github.com/memfuse/memfuse/core"
	"github.com/memfuse/memfuse/logging"
)

type server struct {
	mf     *memfuse.MemFuse
	logger logging.Logger
}

func registerRoutes(r chi.Router, mf *memfuse.MemFuse, logger logging.Logger) {
	s := &server{mf: mf, logger: logger}
	r.Post("/chat", s.handleChat)
	r.Post("/consolidate", s.handleConsolidate)
	r.Get("/memory", s.handleMemory)
	r.Get("/entities", s.handleEntities)
	r.Get("/history", s.handleHistory)
	r.Get("/summaries", s.handleSummaries)
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req core.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.mf.Chat(r.Context(), req)
	if err != nil {
		s.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	sum, err := s.mf.Consolidate(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("consolidation failed", "user_id", req.UserID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	sessions, _ := strconv.Atoi(r.URL.Query().Get("sessions"))
	memories, err := s.mf.Memories(r.Context(), userID, sessions)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *server) handleEntities(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	entities, err := s.mf.Entities(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.mf.History(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	summaries, err := s.mf.Summaries(r.Context(), userID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrProviderUnavailable), errors.Is(err, core.ErrRateLimited):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
