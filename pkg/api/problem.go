// Package api exposes the authorizer's operations over HTTP, with RFC
// 7807 Problem Detail error responses.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gatekeep-labs/gatekeep/pkg/timelock"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://gatekeep.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// ErrorKind names the timelock failure for metrics and problem titles.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, timelock.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, timelock.ErrInvalidDelay):
		return "InvalidDelay"
	case errors.Is(err, timelock.ErrInsufficientDelay):
		return "InsufficientDelay"
	case errors.Is(err, timelock.ErrNotQueued):
		return "NotQueued"
	case errors.Is(err, timelock.ErrTooEarly):
		return "TooEarly"
	case errors.Is(err, timelock.ErrExpired):
		return "Expired"
	}
	var reverted *timelock.CallRevertedError
	if errors.As(err, &reverted) {
		return "CallReverted"
	}
	return "Internal"
}

// statusFor maps the timelock's error kinds onto HTTP statuses.
func statusFor(kind string) int {
	switch kind {
	case "Unauthorized":
		return http.StatusForbidden
	case "InvalidDelay", "InsufficientDelay":
		return http.StatusUnprocessableEntity
	case "NotQueued":
		return http.StatusConflict
	case "TooEarly":
		return http.StatusTooEarly
	case "Expired":
		return http.StatusGone
	case "CallReverted":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteTimelockError maps a timelock failure onto its problem response
// and returns the kind it resolved to.
func WriteTimelockError(w http.ResponseWriter, r *http.Request, err error) string {
	kind := ErrorKind(err)
	WriteError(w, r, statusFor(kind), kind, err.Error())
	return kind
}
