package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"upscaler/internal/domain"
	"upscaler/internal/history"
	"upscaler/internal/middleware"
	"upscaler/internal/session"
	"upscaler/internal/storage"
	"upscaler/internal/upscale"
)

// App carries the dependencies shared by every handler. History and Blobs
// are nil when persistence is disabled.
type App struct {
	Logger      zerolog.Logger
	Sessions    *session.Registry
	Previews    upscale.PreviewStore
	Entitlement domain.Entitlement
	History     *history.Service
	Blobs       storage.BlobStore
	// WaitTimeout bounds ?wait=true submissions.
	WaitTimeout time.Duration
	// Ping checks the database for /healthz. Nil when no database is configured.
	Ping func(*http.Request) error
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

// fail maps domain errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSubmissionInFlight):
		a.error(w, http.StatusConflict, "submission_in_flight", "An upscale is already in progress.")
	case errors.Is(err, domain.ErrNoAsset):
		a.error(w, http.StatusConflict, "no_asset", "Upload an image first.")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrUnknownOption):
		a.error(w, http.StatusBadRequest, "unknown_option", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "sign in required")
	default:
		a.log(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// log returns the request-scoped logger set by middleware.RequestID, falling
// back to the app logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}

// machine returns the caller's machine, creating it on first use.
func (a *App) machine(r *http.Request) *upscale.Machine {
	m, _ := a.Sessions.GetOrCreate(middleware.SessionIDFromContext(r.Context()))
	return m
}

func (a *App) currentUserID(r *http.Request) string {
	if identity := middleware.IdentityFromContext(r.Context()); identity != nil {
		return identity.UserID
	}
	return ""
}

func (a *App) entitlement() domain.Entitlement {
	if a.Entitlement == nil {
		return domain.FreeTier{}
	}
	return a.Entitlement
}

func (a *App) historyEnabled(w http.ResponseWriter) bool {
	if a.History == nil {
		a.error(w, http.StatusServiceUnavailable, "history_disabled", "history is not configured")
		return false
	}
	return true
}
