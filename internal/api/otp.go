package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nutria0/nutria/internal/auth"
)

// OTPIssuer issues and verifies one-time login codes.
type OTPIssuer interface {
	Issue(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) error
}

// otpHandler serves the code request/verify endpoints. They sit outside the
// bearer-token stack: callers hit them to obtain credentials in the first
// place, so the rate limiter is their only gate.
type otpHandler struct {
	issuer OTPIssuer
	logger *slog.Logger
}

type otpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

// requestCode handles POST /api/v1/auth/otp/request.
func (h *otpHandler) requestCode(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_email", "email is required")
		return
	}

	if err := h.issuer.Issue(r.Context(), req.Email); err != nil {
		h.logger.Error("issuing one-time code", "error", err)
		writeError(w, http.StatusInternalServerError, "otp_issue_failed", "could not send a code")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// verifyCode handles POST /api/v1/auth/otp/verify.
func (h *otpHandler) verifyCode(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "email and code are required")
		return
	}

	err := h.issuer.Verify(r.Context(), req.Email, req.Code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "code invalidated after too many attempts")
	default:
		// Mismatch and expiry share a response so callers cannot tell
		// which addresses have outstanding codes.
		writeError(w, http.StatusUnauthorized, "invalid_code", "code is invalid or expired")
	}
}
