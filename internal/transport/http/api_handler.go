package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

// APIHandler serves the REST surface next to the websocket endpoint.
type APIHandler struct {
	service *app.LiveService
	logger  *slog.Logger
}

func NewAPIHandler(service *app.LiveService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{service: service, logger: logger}
}

// Register mounts every route on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("GET /api/sessions/{code}", h.getSession)
	mux.HandleFunc("POST /api/sessions/{code}/end", h.endSession)
	mux.HandleFunc("POST /api/sessions/{code}/reset", h.resetScores)
	mux.HandleFunc("GET /api/sessions/{code}/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /api/sessions/{code}/leaderboard/{participantId}", h.rank)
	mux.HandleFunc("POST /api/sessions/{code}/drafts", h.generateDrafts)
	mux.HandleFunc("GET /api/sessions/{code}/drafts", h.listDrafts)
	mux.HandleFunc("GET /api/sessions/{code}/history", h.history)
}

type hostRequest struct {
	HostID string `json:"hostId"`
	Code   string `json:"code,omitempty"`
}

type draftsRequest struct {
	HostID     string `json:"hostId"`
	Transcript string `json:"transcript"`
}

type rankResponse struct {
	ParticipantID string `json:"participantId"`
	Rank          int    `json:"rank"`
}

func (h *APIHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	snapshot, err := h.service.CreateSession(r.Context(), req.HostID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.Snapshot(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *APIHandler) endSession(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if err := h.service.EndSession(r.Context(), r.PathValue("code"), req.HostID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) resetScores(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	code := r.PathValue("code")
	if err := h.service.ResetScores(r.Context(), code, req.HostID); err != nil {
		h.writeError(w, err)
		return
	}
	entries, err := h.service.Leaderboard(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *APIHandler) rank(w http.ResponseWriter, r *http.Request) {
	participantID := r.PathValue("participantId")
	rank, err := h.service.RankOf(r.Context(), r.PathValue("code"), participantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{ParticipantID: participantID, Rank: rank})
}

func (h *APIHandler) generateDrafts(w http.ResponseWriter, r *http.Request) {
	var req draftsRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	drafts, err := h.service.GenerateDrafts(r.Context(), r.PathValue("code"), req.HostID, req.Transcript)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, drafts)
}

func (h *APIHandler) listDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.service.ListDrafts(r.Context(), r.PathValue("code"), r.URL.Query().Get("hostId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if drafts == nil {
		drafts = []domain.QueuedDraft{}
	}
	writeJSON(w, http.StatusOK, drafts)
}

func (h *APIHandler) history(w http.ResponseWriter, r *http.Request) {
	polls, err := h.service.History(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if polls == nil {
		polls = []domain.Poll{}
	}
	writeJSON(w, http.StatusOK, polls)
}

func (h *APIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, domain.NewError(domain.KindValidation, "invalid request body"))
		return false
	}
	return true
}

// StatusFor maps a request error kind to its HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindState, domain.KindDuplicate:
		return http.StatusConflict
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindCapacity:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := errorPayload{Code: string(domain.KindOf(err)), Message: err.Error()}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		body = errorPayload{Code: "internal", Message: "internal error"}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
