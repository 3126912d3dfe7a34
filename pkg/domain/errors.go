package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrPasteNotFound: no metadata row. The id never existed or was already
	// revoked or rotated away.
	ErrPasteNotFound = NewErr("NOT_FOUND", "paste not found", http.StatusNotFound)
	// ErrPasteGone: metadata exists but the expiry predicate holds. Distinct
	// from NOT_FOUND so clients can tell "never existed" from "existed and
	// expired".
	ErrPasteGone = NewErr("GONE", "paste has expired or been deleted", http.StatusGone)
	// ErrPayloadMissing: metadata says active but the payload store has
	// nothing. Store lag, early TTL eviction, or external tampering.
	ErrPayloadMissing   = NewErr("PAYLOAD_MISSING", "paste content not found", http.StatusNotFound)
	ErrForbidden        = NewErr("FORBIDDEN", "invalid deletion token", http.StatusForbidden)
	ErrStoreUnavailable = NewErr("STORE_UNAVAILABLE", "storage backend unavailable", http.StatusServiceUnavailable)
	ErrValidationFailed = NewErr("VALIDATION_FAILED", "invalid request data", http.StatusBadRequest)
	ErrPasteTooLarge    = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusRequestEntityTooLarge)
	ErrInvalidDuration  = NewErr("INVALID_DURATION", "invalid expiration duration", http.StatusBadRequest)
	ErrInvalidPolicy    = NewErr("INVALID_POLICY", "invalid expiration policy", http.StatusBadRequest)
	ErrRateLimited      = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer   = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrIDGeneration     = NewErr("ID_GENERATION_FAILED", "id generation failed", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}

type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func ToResp(err error) ErrResp {
	if e, ok := err.(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
