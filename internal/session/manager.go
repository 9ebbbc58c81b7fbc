package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/rostersync/internal/extract"
	"github.com/shehryarbajwa/rostersync/internal/metrics"
)

// NoOTPPolicy decides what a missing OTP field after credential submission
// means.
type NoOTPPolicy string

const (
	// NoOTPFail treats a missing OTP field as rejected credentials.
	NoOTPFail NoOTPPolicy = "fail"
	// NoOTPContinue waits for the dashboard and, if it loads, treats the
	// login as complete without a second factor.
	NoOTPContinue NoOTPPolicy = "continue"
)

// screenshotTimeout bounds a single debug capture.
const screenshotTimeout = 10 * time.Second

// Options configures a Manager.
type Options struct {
	Portal Portal
	Mode   extract.Mode

	// CredentialTimeout is how long to wait for the OTP field after the
	// credentials are submitted.
	CredentialTimeout time.Duration
	// OTPTimeout is how long to wait for the dashboard after the OTP (or,
	// with NoOTPContinue, the credentials) was submitted.
	OTPTimeout time.Duration
	// PageTimeout bounds every navigation, fill, click and content read.
	PageTimeout time.Duration

	IdleTimeout   time.Duration
	SweepInterval time.Duration

	NoOTPPolicy   NoOTPPolicy
	MaxSessions   int64
	NotifyTimeout time.Duration
}

// Manager runs the login and scrape flow for many concurrent sessions. Each
// session keeps its own browser between the start and OTP calls.
type Manager struct {
	store    Store
	launcher Launcher
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
	slots    *semaphore.Weighted
	logger   *log.Entry
	now      func() time.Time
}

// NewManager creates a session manager. notifier may be nil.
func NewManager(store Store, launcher Launcher, notifier Notifier, m *metrics.Metrics, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1
	}
	if opts.NoOTPPolicy == "" {
		opts.NoOTPPolicy = NoOTPFail
	}
	if opts.Mode == "" {
		opts.Mode = extract.ModeEmail
	}
	return &Manager{
		store:    store,
		launcher: launcher,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		slots:    semaphore.NewWeighted(opts.MaxSessions),
		logger:   log.WithField("component", "session"),
		now:      time.Now,
	}
}

// StartSession launches a browser, submits the credentials and stops at the
// OTP checkpoint. When the credentials are rejected the session is torn down
// before returning; the returned id then refers to no live session.
func (m *Manager) StartSession(ctx context.Context, username, password string) (res StartResult, err error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return StartResult{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	if !m.slots.TryAcquire(1) {
		return StartResult{}, ErrCapacity
	}

	id := uuid.New().String()
	logger := m.logger.WithField("session-id", id)

	page, err := m.launcher.Launch(ctx, id)
	if err != nil {
		m.slots.Release(1)
		logger.WithError(err).Error("failed to launch browser")
		if ctx.Err() != nil {
			return StartResult{}, fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
		}
		return StartResult{}, fmt.Errorf("%w: failed to launch browser", ErrInternal)
	}

	sess := newSession(id, username, page, m.now())
	sess.op.Lock()
	defer sess.op.Unlock()
	defer func() {
		if r := recover(); r != nil {
			res, err = StartResult{SessionID: id}, m.recovered(sess, r)
		}
	}()

	m.store.Put(sess)
	m.metrics.SessionsStarted.Inc()
	m.metrics.ActiveSessions.Inc()
	logger.WithField("username", username).Info("session started")

	requiresOTP, err := m.authenticate(ctx, sess, username, password)
	if err != nil {
		return StartResult{SessionID: id}, err
	}
	return StartResult{SessionID: id, RequiresOTP: requiresOTP}, nil
}

// SubmitOTP completes the login of a session waiting for its second factor,
// collects the rosters and tears the session down regardless of outcome.
func (m *Manager) SubmitOTP(ctx context.Context, id, code string) (result *Result, err error) {
	if id == "" || strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: otp and session id are required", ErrInvalidInput)
	}

	sess, err := m.acquire(id, StateOTPRequired)
	if err != nil {
		return nil, err
	}
	defer sess.op.Unlock()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, m.recovered(sess, r)
		}
	}()

	reached, err := m.submitOTP(ctx, sess, strings.TrimSpace(code))
	if err != nil {
		return nil, m.abort(ctx, sess, err)
	}
	if !reached {
		m.fail(sess, ReasonOTPTimeout, ErrOTPTimeout)
		return nil, ErrOTPTimeout
	}
	if err := m.advance(sess, StateAuthenticated); err != nil {
		return nil, err
	}

	return m.collect(ctx, sess)
}

// Collect scrapes the rosters of a session that authenticated without a
// second factor, then tears it down.
func (m *Manager) Collect(ctx context.Context, id string) (result *Result, err error) {
	if id == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	sess, err := m.acquire(id, StateAuthenticated)
	if err != nil {
		return nil, err
	}
	defer sess.op.Unlock()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, m.recovered(sess, r)
		}
	}()

	return m.collect(ctx, sess)
}

// Screenshot returns the last capture of a live session.
func (m *Manager) Screenshot(id string) ([]byte, error) {
	sess, ok := m.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	shot := sess.Screenshot()
	if len(shot) == 0 {
		return nil, ErrNoScreenshot
	}
	return shot, nil
}

// Status returns a snapshot of a live session.
func (m *Manager) Status(id string) (Snapshot, error) {
	sess, ok := m.store.Get(id)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// DebugURL returns the DevTools WebSocket of a live session, or "" when its
// browser does not expose one.
func (m *Manager) DebugURL(id string) (string, error) {
	sess, ok := m.store.Get(id)
	if !ok {
		return "", ErrSessionNotFound
	}
	if d, ok := sess.page.(Debuggable); ok {
		return d.DebugURL(), nil
	}
	return "", nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	return m.store.Len()
}

// acquire takes the operation lock of a live session in the wanted state.
// A session already running an operation is reported as busy rather than
// waited on.
func (m *Manager) acquire(id string, want State) (*Session, error) {
	sess, ok := m.store.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !sess.op.TryLock() {
		return nil, fmt.Errorf("%w: session is busy", ErrInvalidState)
	}

	state := sess.State()
	if state.Terminal() {
		sess.op.Unlock()
		return nil, ErrSessionNotFound
	}
	if state != want {
		sess.op.Unlock()
		return nil, fmt.Errorf("%w: session is %s, expected %s", ErrInvalidState, state, want)
	}

	sess.touch(m.now())
	return sess, nil
}

func (m *Manager) collect(ctx context.Context, sess *Session) (*Result, error) {
	if err := m.advance(sess, StateScraping); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := m.scrape(ctx, sess)
	metrics.Since(m.metrics.ScrapeDuration, start)
	if err != nil {
		return nil, m.abort(ctx, sess, err)
	}

	if !sess.markDone(m.now()) {
		return nil, m.closedUnderneath(sess)
	}
	m.teardown(sess, "done")
	m.notify(sess.Username, result)

	return result, nil
}

// abort fails the session after an unexpected error and returns the error to
// surface to the caller. Driver details are logged, not returned.
func (m *Manager) abort(ctx context.Context, sess *Session, err error) error {
	if errors.Is(err, ErrCanceled) {
		return err
	}
	if ctx.Err() != nil {
		m.fail(sess, ReasonCanceled, err)
		return fmt.Errorf("%w: %v", ErrCanceled, ctx.Err())
	}

	m.logger.WithField("session-id", sess.ID).WithError(err).Error("session failed")
	m.fail(sess, ReasonInternal, err)
	return ErrInternal
}

func (m *Manager) fail(sess *Session, reason FailureReason, err error) {
	if sess.markFailed(reason, m.now()) {
		m.logger.WithField("session-id", sess.ID).WithField("reason", reason).
			WithError(err).Debug("session failed")
	}
	m.teardown(sess, string(reason))
}

// recovered fails a session whose driver panicked mid-operation.
func (m *Manager) recovered(sess *Session, r interface{}) error {
	m.logger.WithField("session-id", sess.ID).WithField("panic", r).Error("browser driver panicked")
	m.fail(sess, ReasonInternal, fmt.Errorf("driver panic: %v", r))
	return ErrInternal
}

// advance moves a session to state. A session failed by the sweeper or by
// Shutdown while the caller was waiting on the page cannot advance.
func (m *Manager) advance(sess *Session, state State) error {
	if !sess.setState(state, m.now()) {
		return m.closedUnderneath(sess)
	}
	return nil
}

func (m *Manager) closedUnderneath(sess *Session) error {
	m.teardown(sess, string(sess.Snapshot().Reason))
	return fmt.Errorf("%w: session was closed while in progress", ErrCanceled)
}

// teardown removes the session from the store, closes its browser and frees
// its slot. It runs at most once per session.
func (m *Manager) teardown(sess *Session, outcome string) {
	sess.teardownOnce.Do(func() {
		m.store.Delete(sess.ID)

		logger := m.logger.WithField("session-id", sess.ID)
		if err := sess.page.Close(); err != nil {
			logger.WithError(err).Warn("failed to close browser")
		}

		m.slots.Release(1)
		m.metrics.ActiveSessions.Dec()
		m.metrics.SessionsFinished.WithLabelValues(outcome).Inc()
		logger.WithField("outcome", outcome).Info("session closed")
	})
}

func (m *Manager) notify(username string, result *Result) {
	if m.notifier == nil || len(result.Records) == 0 {
		return
	}

	rooms := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		rooms = append(rooms, record.CourseName)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.NotifyTimeout)
		defer cancel()

		if err := m.notifier.AddUserToRooms(ctx, username, rooms); err != nil {
			m.metrics.Notifications.WithLabelValues("error").Inc()
			m.logger.WithField("username", username).WithError(err).Warn("room notification failed")
			return
		}
		m.metrics.Notifications.WithLabelValues("ok").Inc()
	}()
}

// stepContext bounds a single page operation.
func (m *Manager) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.PageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.PageTimeout)
}

// waitFor runs wait with a deadline of d. A deadline hit reports false with
// no error; cancellation of ctx itself is returned as an error.
func waitFor(ctx context.Context, d time.Duration, wait func(context.Context) error) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := wait(wctx)
	if err == nil {
		return true, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	return false, err
}
