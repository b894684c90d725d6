// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextcloud/go_speaker_client/internal/protocol"
	"github.com/nextcloud/go_speaker_client/internal/session"
)

// Controller is the set of user intents the control API exposes.
type Controller interface {
	Snapshot() session.Snapshot
	SetTask(t protocol.Task)
	SetSpeaker(name string)
	StartCapture() error
	StopCapture()
	RefreshRoster() error
	RemoveVoice(name string) error
	WavURL(ctx context.Context) (string, error)
}

type Handler struct {
	Controller Controller
}

func NewHandler(ctrl Controller) *Handler {
	return &Handler{Controller: ctrl}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// intentStatus maps session errors onto HTTP status codes.
func intentStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrAlreadyRecording):
		return http.StatusConflict
	case errors.Is(err, session.ErrSpeakerNameRequired):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	s := h.Controller.Snapshot()
	writeJSON(w, http.StatusOK, StateResponse{
		Phase:        s.Phase().String(),
		Connected:    s.Connected,
		Recording:    s.Recording,
		StartEnabled: s.StartEnabled(),
		StopEnabled:  s.StopEnabled(),
		Task:         string(s.Task),
		Speaker:      s.Speaker,
		Roster:       s.Roster,
		StatusLog:    s.StatusLog,
	})
}

func (h *Handler) SetTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	task, err := protocol.ParseTask(req.Task)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	h.Controller.SetTask(task)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Task selected."})
}

func (h *Handler) SetSpeaker(w http.ResponseWriter, r *http.Request) {
	var req SpeakerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	h.Controller.SetSpeaker(req.Speaker)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Speaker name set."})
}

func (h *Handler) StartCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.StartCapture(); err != nil {
		slog.Warn("start capture failed", "error", err)
		writeJSON(w, intentStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Recording started."})
}

func (h *Handler) StopCapture(w http.ResponseWriter, r *http.Request) {
	h.Controller.StopCapture()
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Recording stopped."})
}

func (h *Handler) RefreshRoster(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.RefreshRoster(); err != nil {
		writeJSON(w, intentStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "Roster refresh requested."})
}

func (h *Handler) RemoveVoice(w http.ResponseWriter, r *http.Request) {
	var req RemoveVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.Controller.RemoveVoice(req.Speaker); err != nil {
		slog.Warn("remove voice failed", "error", err, "speaker", req.Speaker)
		writeJSON(w, intentStatus(err), ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{Message: "Voice removal requested."})
}

func (h *Handler) GetWav(w http.ResponseWriter, r *http.Request) {
	url, err := h.Controller.WavURL(r.Context())
	if err != nil {
		slog.Error("wav lookup failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Failed to fetch the recording path."})
		return
	}
	writeJSON(w, http.StatusOK, WavResponse{URL: url})
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /heartbeat", h.Heartbeat)

	mux.HandleFunc("GET /api/v1/state", h.GetState)
	mux.HandleFunc("PUT /api/v1/task", h.SetTask)
	mux.HandleFunc("PUT /api/v1/speaker", h.SetSpeaker)
	mux.HandleFunc("POST /api/v1/capture/start", h.StartCapture)
	mux.HandleFunc("POST /api/v1/capture/stop", h.StopCapture)
	mux.HandleFunc("POST /api/v1/roster/refresh", h.RefreshRoster)
	mux.HandleFunc("POST /api/v1/voice/remove", h.RemoveVoice)
	mux.HandleFunc("GET /api/v1/wav", h.GetWav)
}
