package domain

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrPasteNotFound, http.StatusNotFound},
		{ErrPasteGone, http.StatusGone},
		{ErrPayloadMissing, http.StatusNotFound},
		{ErrForbidden, http.StatusForbidden},
		{ErrStoreUnavailable, http.StatusServiceUnavailable},
		{ErrPasteTooLarge, http.StatusRequestEntityTooLarge},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := Status(tc.err); got != tc.want {
			t.Errorf("Status(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusUnwrapsCause(t *testing.T) {
	wrapped := errors.Wrap(ErrPasteGone, "consume")
	if got := Status(wrapped); got != http.StatusGone {
		t.Errorf("Status on wrapped error = %d, want 410", got)
	}
	resp := ToResp(wrapped)
	if resp.Error.Code != "GONE" {
		t.Errorf("ToResp code = %s, want GONE", resp.Error.Code)
	}
}
