package handlers

import (
	"net/http"

	"upscaler/internal/domain"
	"upscaler/internal/middleware"
)

type meResponse struct {
	Anonymous bool             `json:"anonymous"`
	User      *domain.Identity `json:"user,omitempty"`
	Plan      string           `json:"plan"`
	Credits   string           `json:"credits"`
}

func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	a.json(w, http.StatusOK, meResponse{
		Anonymous: identity == nil,
		User:      identity,
		Plan:      domain.PlanFree,
		Credits:   domain.CreditsFree,
	})
}
