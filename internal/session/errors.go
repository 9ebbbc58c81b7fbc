package session

import (
	"errors"
	"fmt"

	"github.com/shehryarbajwa/rostersync/internal/extract"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrOTPTimeout           = errors.New("login did not complete within the expected time")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidState         = errors.New("invalid session state")
	ErrNoScreenshot         = errors.New("no screenshot captured yet")
	ErrCapacity             = errors.New("too many active sessions")
	ErrCanceled             = errors.New("session canceled")
	ErrInternal             = errors.New("internal error")
)

// ScrapeError is a per-course failure. The pipeline records it and moves on.
type ScrapeError struct {
	Course extract.Course
	Err    error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("failed to scrape course %q (ref_id %q): %v", e.Course.Name, e.Course.RefID, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}
