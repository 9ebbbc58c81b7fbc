package session

import (
	"context"
	"errors"
	"fmt"
)

var (
	errNoOTPField       = errors.New("otp field did not appear after submitting credentials")
	errDashboardMissing = errors.New("dashboard did not load after submitting credentials")
)

// authenticate drives the session from CREATED to OTP_REQUIRED, or to
// AUTHENTICATED under NoOTPContinue. Every failure tears the session down.
func (m *Manager) authenticate(ctx context.Context, sess *Session, username, password string) (bool, error) {
	if err := m.submitCredentials(ctx, sess, username, password); err != nil {
		return false, m.abort(ctx, sess, err)
	}

	portal := m.opts.Portal
	found, err := waitFor(ctx, m.opts.CredentialTimeout, func(wctx context.Context) error {
		return sess.page.WaitForSelector(wctx, portal.OTPSelector)
	})
	if err != nil {
		return false, m.abort(ctx, sess, err)
	}
	if found {
		if err := m.advance(sess, StateOTPRequired); err != nil {
			return false, err
		}
		m.capture(ctx, sess)
		return true, nil
	}

	if m.opts.NoOTPPolicy != NoOTPContinue {
		m.fail(sess, ReasonInvalidCredentials, errNoOTPField)
		return false, ErrAuthenticationFailed
	}

	if err := m.advance(sess, StateAuthenticating); err != nil {
		return false, err
	}
	reached, err := waitFor(ctx, m.opts.OTPTimeout, func(wctx context.Context) error {
		return sess.page.WaitForURL(wctx, portal.DashboardURLPattern)
	})
	if err != nil {
		return false, m.abort(ctx, sess, err)
	}
	if !reached {
		m.fail(sess, ReasonInvalidCredentials, errDashboardMissing)
		return false, ErrAuthenticationFailed
	}

	if err := m.advance(sess, StateAuthenticated); err != nil {
		return false, err
	}
	m.capture(ctx, sess)
	return false, nil
}

func (m *Manager) submitCredentials(ctx context.Context, sess *Session, username, password string) error {
	portal := m.opts.Portal

	if err := m.step(ctx, func(sctx context.Context) error {
		return sess.page.Navigate(sctx, portal.LoginURL)
	}); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	if err := m.step(ctx, func(sctx context.Context) error {
		if err := sess.page.Fill(sctx, portal.UsernameSelector, username); err != nil {
			return err
		}
		return sess.page.Fill(sctx, portal.PasswordSelector, password)
	}); err != nil {
		return fmt.Errorf("failed to fill credentials: %w", err)
	}

	if err := m.step(ctx, func(sctx context.Context) error {
		return sess.page.Click(sctx, portal.LoginButtonSelector)
	}); err != nil {
		return fmt.Errorf("failed to submit credentials: %w", err)
	}

	if err := m.advance(sess, StateCredentialsSubmitted); err != nil {
		return err
	}
	m.capture(ctx, sess)
	return nil
}

// submitOTP enters the code and waits for the dashboard. It reports false
// when the dashboard did not load within OTPTimeout.
func (m *Manager) submitOTP(ctx context.Context, sess *Session, code string) (bool, error) {
	portal := m.opts.Portal
	if err := m.advance(sess, StateAuthenticating); err != nil {
		return false, err
	}

	if err := m.step(ctx, func(sctx context.Context) error {
		return sess.page.Fill(sctx, portal.OTPSelector, code)
	}); err != nil {
		return false, fmt.Errorf("failed to fill otp: %w", err)
	}
	m.capture(ctx, sess)

	if err := m.step(ctx, func(sctx context.Context) error {
		return sess.page.Click(sctx, portal.OTPSubmitSelector)
	}); err != nil {
		return false, fmt.Errorf("failed to submit otp: %w", err)
	}
	m.capture(ctx, sess)

	return waitFor(ctx, m.opts.OTPTimeout, func(wctx context.Context) error {
		return sess.page.WaitForURL(wctx, portal.DashboardURLPattern)
	})
}

func (m *Manager) step(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := m.stepContext(ctx)
	defer cancel()
	return fn(sctx)
}

// capture stores a screenshot of the current page. A failed capture is
// logged and clears the previous one, which no longer shows the page.
func (m *Manager) capture(ctx context.Context, sess *Session) {
	cctx, cancel := context.WithTimeout(ctx, screenshotTimeout)
	defer cancel()

	shot, err := sess.page.Screenshot(cctx)
	if err != nil {
		m.logger.WithField("session-id", sess.ID).WithError(err).Warn("failed to capture screenshot")
		sess.setScreenshot(nil)
		return
	}
	sess.setScreenshot(shot)
}
