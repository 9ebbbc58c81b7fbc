package session

import (
	"sync"
	"time"
)

// State is a step of the login and scrape flow of one session.
type State string

const (
	StateCreated              State = "CREATED"
	StateCredentialsSubmitted State = "CREDENTIALS_SUBMITTED"
	StateOTPRequired          State = "OTP_REQUIRED"
	StateAuthenticating       State = "AUTHENTICATING"
	StateAuthenticated        State = "AUTHENTICATED"
	StateScraping             State = "SCRAPING"
	StateDone                 State = "DONE"
	StateFailed               State = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FailureReason explains why a session ended in StateFailed.
type FailureReason string

const (
	ReasonInvalidCredentials FailureReason = "invalid_credentials"
	ReasonOTPTimeout         FailureReason = "otp_timeout"
	ReasonInternal           FailureReason = "internal"
	ReasonCanceled           FailureReason = "canceled"
	ReasonExpired            FailureReason = "expired"
)

// RosterRecord is the member column of one course, in table order.
type RosterRecord struct {
	CourseName  string   `json:"course_name"`
	CourseRefID string   `json:"course_id"`
	Students    []string `json:"students"`
}

// CourseFailure records a course that was skipped by the scrape pipeline.
type CourseFailure struct {
	CourseName  string `json:"course_name"`
	CourseRefID string `json:"course_id"`
	Reason      string `json:"error"`
}

// Result is the outcome of a completed scrape.
type Result struct {
	Records  []RosterRecord  `json:"classrooms"`
	Failures []CourseFailure `json:"failures"`
}

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID   string
	RequiresOTP bool
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID         string        `json:"session_id"`
	State      State         `json:"state"`
	Reason     FailureReason `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastActive time.Time     `json:"last_active"`
}

// Session is one in-progress login and scrape job. It exclusively owns its
// Page until teardown.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time

	page         Page
	op           sync.Mutex // serializes every operation that drives page
	teardownOnce sync.Once

	mu         sync.RWMutex
	state      State
	reason     FailureReason
	screenshot []byte
	lastActive time.Time
}

func newSession(id, username string, page Page, now time.Time) *Session {
	return &Session{
		ID:         id,
		Username:   username,
		CreatedAt:  now,
		page:       page,
		state:      StateCreated,
		lastActive: now,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActive returns the time of the last transition or accepted operation.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Screenshot returns the most recent capture, or nil.
func (s *Session) Screenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenshot
}

// Snapshot copies the externally visible fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:         s.ID,
		State:      s.state,
		Reason:     s.reason,
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
	}
}

// setState moves the session to state and reports whether it did. A
// terminal session does not move.
func (s *Session) setState(state State, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.lastActive = now
	return true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = now
}

// setScreenshot replaces the capture; nil clears it.
func (s *Session) setScreenshot(shot []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshot = shot
}

// markFailed moves the session to StateFailed. The first failure wins.
func (s *Session) markFailed(reason FailureReason, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = StateFailed
	s.reason = reason
	s.lastActive = now
	return true
}

func (s *Session) markDone(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = StateDone
	s.lastActive = now
	return true
}
