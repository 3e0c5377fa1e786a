package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"firesim-sync-service/internal/app"
	"firesim-sync-service/internal/domain"
)

// AdminHandler exposes the instructor surface: session CRUD and stage
// control over REST, plus a server-sent event stream mirroring the admin
// dashboard's live view.
//
// Access control is a single shared passcode. It gates the admin role only
// and is not a security boundary.
type AdminHandler struct {
	repo     app.SessionRepository
	passcode string
	view     *app.AdminView
}

// NewAdminHandler builds the handler and its process-wide admin view, which
// backs the REST mutations. Event streams get their own per-connection view.
func NewAdminHandler(ctx context.Context, repo app.SessionRepository, passcode string) (*AdminHandler, error) {
	view, err := app.NewAdminView(ctx, repo)
	if err != nil {
		return nil, err
	}
	return &AdminHandler{repo: repo, passcode: passcode, view: view}, nil
}

// Register mounts the admin routes.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/sessions", h.requireAuth(h.handleList))
	mux.HandleFunc("POST /admin/sessions", h.requireAuth(h.handleCreate))
	mux.HandleFunc("PATCH /admin/sessions/{id}", h.requireAuth(h.handleUpdate))
	mux.HandleFunc("DELETE /admin/sessions/{id}", h.requireAuth(h.handleDelete))
	mux.HandleFunc("POST /admin/sessions/{id}/advance", h.requireAuth(h.handleAdvance))
	mux.HandleFunc("POST /admin/sessions/{id}/rollback", h.requireAuth(h.handleRollback))
	mux.HandleFunc("GET /admin/events", h.requireAuth(h.handleEvents))
}

// Close tears down the shared admin view.
func (h *AdminHandler) Close() {
	h.view.Close()
}

func (h *AdminHandler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		passcode := r.Header.Get("X-Admin-Passcode")
		if passcode == "" {
			// EventSource cannot set headers.
			passcode = r.URL.Query().Get("passcode")
		}
		if h.passcode == "" || passcode != h.passcode {
			writeError(w, http.StatusUnauthorized, "invalid passcode")
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	// Admin sees every session, closed ones included.
	all, err := h.repo.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": all})
}

type createSessionRequest struct {
	GroupName         string `json:"groupName"`
	TotalTeams        int    `json:"totalTeams"`
	IsOpen            bool   `json:"isOpen"`
	CurrentStageIndex int    `json:"currentStageIndex"`
}

func (h *AdminHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GroupName == "" {
		writeError(w, http.StatusBadRequest, "groupName is required")
		return
	}
	id, err := h.view.CreateNewSession(r.Context(), domain.Session{
		GroupName:         req.GroupName,
		TotalTeams:        req.TotalTeams,
		IsOpen:            req.IsOpen,
		CurrentStageIndex: req.CurrentStageIndex,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to create session")
		return
	}
	session, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *AdminHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var update domain.SessionUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.view.UpdateSessionConfig(r.Context(), id, update); err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *AdminHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.view.RemoveSession(r.Context(), r.PathValue("id")); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.view.AdvanceStage(r.Context(), id); err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *AdminHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.view.RollbackStage(r.Context(), id); err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeSession(w, r, id)
}

func (h *AdminHandler) writeSession(w http.ResponseWriter, r *http.Request, id string) {
	session, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *AdminHandler) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusBadGateway, "store operation failed")
}

type adminState struct {
	Sessions map[string]domain.Session `json:"sessions"`
	Selected string                    `json:"selected,omitempty"`
	Learners map[string]domain.Learner `json:"learners"`
}

// handleEvents streams the admin dashboard state over SSE. Each connection
// owns its own view and optional session selection, so two dashboards never
// share a selection pointer.
func (h *AdminHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	view, err := app.NewAdminView(r.Context(), h.repo)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to subscribe")
		return
	}
	defer view.Close()

	if selected := r.URL.Query().Get("session"); selected != "" {
		if err := view.Select(r.Context(), selected); err != nil {
			writeError(w, http.StatusBadGateway, "failed to watch session")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	writeState := func() {
		state := adminState{
			Sessions: view.Sessions(),
			Selected: view.SelectedID(),
			Learners: view.Learners(),
		}
		data, err := json.Marshal(state)
		if err != nil {
			log.Printf("marshal admin state: %v", err)
			return
		}
		fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
		flusher.Flush()
	}

	writeState()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-view.Updates():
			writeState()
		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
