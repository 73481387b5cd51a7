package domain

// Identity is the signed-in user for a request. A nil *Identity is anonymous.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Plan names shown on the dashboard. Gating does not read them.
const (
	PlanFree    = "Free"
	CreditsFree = "2× only"
)
