package models

import "github.com/shehryarbajwa/rostersync/internal/session"

// Response statuses.
const (
	StatusOTPRequired          = "otp_required"
	StatusAuthenticated        = "authenticated"
	StatusAuthenticationFailed = "authentication_failed"
	StatusSuccess              = "success"
	StatusError                = "error"
	StatusOK                   = "ok"
)

// StartSessionRequest carries the portal credentials of /perform-sync.
type StartSessionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SubmitOTPRequest is the payload of /submit-otp.
type SubmitOTPRequest struct {
	OTP       string `json:"otp"`
	SessionID string `json:"session_id"`
}

// CollectRequest is the payload of /collect.
type CollectRequest struct {
	SessionID string `json:"session_id"`
}

// StartSessionResponse answers /perform-sync. Message is set only when the
// credentials were rejected.
type StartSessionResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}

// ResultResponse carries the collected rosters.
type ResultResponse struct {
	Status string          `json:"status"`
	Data   *session.Result `json:"data"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}
