package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/florianilch/switchboard/internal/authfile"
	"github.com/florianilch/switchboard/internal/reflock"
	"github.com/florianilch/switchboard/internal/store"
	"github.com/florianilch/switchboard/internal/ticket"
	"github.com/florianilch/switchboard/internal/usage"
)

// importRequest names a new account created from the CLI's current login.
type importRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

// updateRequest carries a partial account update. Absent fields stay
// unchanged.
type updateRequest struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

type currentResponse struct {
	ID string `json:"id,omitempty"`
}

type syncResponse struct {
	Changed bool `json:"changed"`
}

type conflictResponse struct {
	Conflict bool   `json:"conflict"`
	Name     string `json:"name,omitempty"`
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

type fixRequest struct {
	Ticket string `json:"ticket"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, s.svc.Accounts(), http.StatusOK)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, currentResponse{ID: s.svc.CurrentID()}, http.StatusOK)
}

func (s *Server) handleImportCurrent(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(r.Context(), w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeJSONError(r.Context(), w, "name is required", http.StatusBadRequest)
		return
	}

	account, err := s.svc.ImportCurrent(req.Name, req.Notes)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, account, http.StatusCreated)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(r.Context(), w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.svc.Update(chi.URLParam(r, "id"), req.Name, req.Notes)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, account, http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Switch(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	changed, err := s.svc.Sync(chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, syncResponse{Changed: changed}, http.StatusOK)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := s.svc.Quota(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, quota, http.StatusOK)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.svc.Export()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(r.Context(), w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Import(data); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, s.svc.Settings(), http.StatusOK)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(r.Context(), w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.UpdateSettings(settings); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, settings, http.StatusOK)
}

func (s *Server) handleConflict(w http.ResponseWriter, r *http.Request) {
	name, conflict := s.svc.CheckConflict()
	writeJSON(r.Context(), w, conflictResponse{Conflict: conflict, Name: name}, http.StatusOK)
}

func (s *Server) handleFixTicket(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, ticketResponse{Ticket: s.svc.RequestFixTicket()}, http.StatusOK)
}

func (s *Server) handleFixQuarantine(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(r.Context(), w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.FixQuarantine(r.Context(), req.Ticket); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// heartbeatInterval keeps idle event streams from being reaped by proxies.
const heartbeatInterval = 30 * time.Second

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		writeJSONError(r.Context(), w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.svc.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			if err := sse.WriteEvent(event, nil); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// ErrorResponse is the body every non-2xx endpoint returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON is the single success path: status, then streamed body. The
// status is already on the wire if encoding fails, so the failure is only
// logged.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "encoding response body", "error", err)
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Error: message}, status)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	writeJSONError(ctx, w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	var validationErr *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reflock.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, store.ErrIdentityMismatch):
		return http.StatusConflict
	case errors.Is(err, authfile.ErrNotLoggedIn):
		return http.StatusPreconditionFailed
	case errors.Is(err, ticket.ErrMissing),
		errors.Is(err, ticket.ErrExpired),
		errors.Is(err, ticket.ErrMismatch):
		return http.StatusForbidden
	case errors.Is(err, usage.ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
