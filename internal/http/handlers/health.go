package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Ping != nil {
		if err := a.Ping(r); err != nil {
			a.log(r).Warn().Err(err).Msg("health: database unreachable")
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "down"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]any{"status": "ok", "sessions": a.Sessions.Len(), "history": a.History != nil})
}
