package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kjannette/stockwatch-backend/internal/dashboard"
	"github.com/kjannette/stockwatch-backend/internal/models"
	"github.com/kjannette/stockwatch-backend/internal/watchlist"
)

const refreshTimeout = 10 * time.Second

type sessionResponse struct {
	ID    string             `json:"id"`
	State watchlist.Snapshot `json:"state"`
}

type signInRequest struct {
	Credential string `json:"credential"`
}

type signInResponse struct {
	Identity *models.Identity   `json:"identity"`
	State    watchlist.Snapshot `json:"state"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type stateResponse struct {
	Error string             `json:"error,omitempty"`
	State watchlist.Snapshot `json:"state"`
}

// lookup resolves the {id} path value or writes a 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*dashboard.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		fmt.Printf("[API] Error creating session: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID, State: sess.Controller.Snapshot()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID, State: sess.Controller.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := sess.Tracker.SignIn(r.Context(), req.Credential)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, stateResponse{
			Error: "sign-in failed",
			State: sess.Controller.Snapshot(),
		})
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{Identity: id, State: sess.Controller.Snapshot()})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Tracker.SignOut()
	writeJSON(w, http.StatusOK, stateResponse{State: sess.Controller.Snapshot()})
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req symbolRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := sess.Controller.AddSymbol(r.Context(), req.Symbol); err != nil {
		writeControllerError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse{State: sess.Controller.Snapshot()})
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Controller.RemoveSymbol(r.Context(), r.PathValue("symbol")); err != nil {
		writeControllerError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: sess.Controller.Snapshot()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := sess.Controller.Refresh(ctx); err != nil {
		writeControllerError(w, sess, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: sess.Controller.Snapshot()})
}

func writeControllerError(w http.ResponseWriter, sess *dashboard.Session, err error) {
	status := statusFor(err)
	if status >= 500 {
		fmt.Printf("[API] Session %s: %v\n", sess.ID, err)
	}
	writeJSON(w, status, stateResponse{Error: err.Error(), State: sess.Controller.Snapshot()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, watchlist.ErrAlreadyWatched),
		errors.Is(err, watchlist.ErrLastSymbol),
		errors.Is(err, watchlist.ErrReconciling),
		errors.Is(err, watchlist.ErrWatchlistFull):
		return http.StatusConflict
	case errors.Is(err, watchlist.ErrInvalidSymbol):
		return http.StatusUnprocessableEntity
	case errors.Is(err, watchlist.ErrNotWatched):
		return http.StatusNotFound
	case errors.Is(err, watchlist.ErrClosed):
		return http.StatusGone
	case errors.Is(err, watchlist.ErrQuoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
