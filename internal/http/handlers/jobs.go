package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"upscaler/pkg/zip"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 200
)

// JobsList returns the signed-in user's history with dashboard stats.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	if !a.historyEnabled(w) {
		return
	}
	limit := defaultJobsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobsLimit)
	}
	page, err := a.History.List(r.Context(), a.currentUserID(r), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, page)
}

func (a *App) JobsDelete(w http.ResponseWriter, r *http.Request) {
	if !a.historyEnabled(w) {
		return
	}
	jobID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(jobID); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	if err := a.History.Delete(r.Context(), a.currentUserID(r), jobID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JobsArchive streams every stored result as a zip. Errors after the first
// byte can only be logged; the client sees a truncated archive.
func (a *App) JobsArchive(w http.ResponseWriter, r *http.Request) {
	if !a.historyEnabled(w) {
		return
	}
	entries, err := a.History.ArchiveEntries(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=upscaled-images.zip")
	w.WriteHeader(http.StatusOK)
	n, err := zip.Stream(w, entries)
	if err != nil {
		a.log(r).Error().Err(err).Int("written", n).Msg("archive stream failed")
		return
	}
	a.log(r).Debug().Int("entries", n).Msg("archive sent")
}
