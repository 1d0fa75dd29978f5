package server

import (
	"github.com/soulo-online/insight/internal/plan"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// InsightQueryRequest is one plan execution submission. The caller identity
// always comes from the session token, never from this body.
type InsightQueryRequest struct {
	Plan      *plan.QueryPlan `json:"plan"`
	PlanText  string          `json:"planText,omitempty"`
	TimeRange *plan.TimeRange `json:"timeRange,omitempty"`
	Period    string          `json:"period,omitempty"`
}
