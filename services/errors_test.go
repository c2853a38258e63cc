package services

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppErrorMessageFormatting(t *testing.T) {
	plain := newAppError(http.StatusBadRequest, "bad input", nil)
	if plain.Error() != "bad input" {
		t.Fatalf("unexpected message: %q", plain.Error())
	}

	wrapped := newAppError(http.StatusInternalServerError, "save failed", errors.New("deadlock"))
	if wrapped.Error() != "save failed: deadlock" {
		t.Fatalf("unexpected message: %q", wrapped.Error())
	}

	var nilErr *AppError
	if nilErr.Error() != "" {
		t.Fatalf("nil receiver must return empty message")
	}
}

func TestAppErrorUnwrapsSentinels(t *testing.T) {
	err := newAppError(http.StatusBadRequest, "mismatch", errors.Join(ErrSizeMismatch, errors.New("declared 10 got 8")))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("sentinel not reachable through AppError chain")
	}
	if errors.Is(err, ErrIncompleteUpload) {
		t.Fatalf("unrelated sentinel must not match")
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("errors.As failed to recover *AppError")
	}
	if appErr.HTTPCode != http.StatusBadRequest {
		t.Fatalf("unexpected HTTP code %d", appErr.HTTPCode)
	}
}
