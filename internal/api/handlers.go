package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/rostersync/internal/session"
	"github.com/shehryarbajwa/rostersync/pkg/models"
)

const (
	maxBodyBytes = 1 << 20

	msgAuthenticationFailed = "Looks like you provided wrong details. Please try submitting again."
	msgInternal             = "Something went wrong, please try again."
)

// Sessions is the part of session.Manager the handlers need.
type Sessions interface {
	StartSession(ctx context.Context, username, password string) (session.StartResult, error)
	SubmitOTP(ctx context.Context, id, code string) (*session.Result, error)
	Collect(ctx context.Context, id string) (*session.Result, error)
	Screenshot(id string) ([]byte, error)
	Status(id string) (session.Snapshot, error)
	Active() int
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessions Sessions
}

// NewHandler creates a new HTTP handler
func NewHandler(sessions Sessions) *Handler {
	return &Handler{
		sessions: sessions,
	}
}

// StartSession handles /perform-sync: it logs in with the given credentials
// and stops at the OTP checkpoint.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = formValue(r, "username", req.Username)
	req.Password = formValue(r, "password", req.Password)

	res, err := h.sessions.StartSession(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, session.ErrAuthenticationFailed):
		writeJSON(w, http.StatusOK, models.StartSessionResponse{
			Status:    models.StatusAuthenticationFailed,
			SessionID: res.SessionID,
			Message:   msgAuthenticationFailed,
		})
	case err != nil:
		writeSessionError(w, r, err)
	case res.RequiresOTP:
		writeJSON(w, http.StatusOK, models.StartSessionResponse{
			Status:    models.StatusOTPRequired,
			SessionID: res.SessionID,
		})
	default:
		writeJSON(w, http.StatusOK, models.StartSessionResponse{
			Status:    models.StatusAuthenticated,
			SessionID: res.SessionID,
		})
	}
}

// SubmitOTP handles /submit-otp and answers with the collected rosters.
func (h *Handler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OTP = formValue(r, "otp", req.OTP)
	req.SessionID = formValue(r, "session_id", req.SessionID)

	result, err := h.sessions.SubmitOTP(r.Context(), req.SessionID, req.OTP)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ResultResponse{Status: models.StatusSuccess, Data: result})
}

// Collect handles /collect for sessions that logged in without an OTP.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	var req models.CollectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.SessionID = formValue(r, "session_id", req.SessionID)

	result, err := h.sessions.Collect(r.Context(), req.SessionID)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ResultResponse{Status: models.StatusSuccess, Data: result})
}

// Screenshot handles /screenshot/{session_id}
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	shot, err := h.sessions.Screenshot(mux.Vars(r)["session_id"])
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(shot)
}

// Status handles /sessions/{session_id}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Status(mux.Vars(r)["session_id"])
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:         models.StatusOK,
		ActiveSessions: h.sessions.Active(),
	})
}

// statusCode maps a session error to its HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrNoScreenshot):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrOTPTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrCapacity):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCanceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)

	msg := err.Error()
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		msg = "Invalid session ID"
	case code == http.StatusInternalServerError:
		log.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		msg = msgInternal
	}
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{Status: models.StatusError, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

// decodeJSON fills dst from a JSON body. Other bodies are left to formValue.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil
	}

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// formValue returns current when set, otherwise the form or query value.
func formValue(r *http.Request, key, current string) string {
	if current != "" {
		return current
	}
	return r.FormValue(key)
}
