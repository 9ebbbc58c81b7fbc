package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/rostersync/internal/extract"
	"github.com/shehryarbajwa/rostersync/internal/session"
)

const (
	DriverLocal  = "local"
	DriverDocker = "docker"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the complete server configuration.
type Config struct {
	Addr string

	Driver       string
	Headless     bool
	ChromePath   string
	DockerImage  string
	MaxSessions  int
	StartTimeout time.Duration

	CredentialTimeout time.Duration
	OTPTimeout        time.Duration
	PageTimeout       time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration

	NoOTPPolicy string
	ExtractMode string

	Portal    PortalConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type PortalConfig struct {
	LoginURL            string
	DashboardPattern    string
	OverviewURL         string
	CourseURLTemplate   string
	UsernameSelector    string
	PasswordSelector    string
	LoginButtonSelector string
	OTPSelector         string
	OTPSubmitSelector   string
}

// NotifyConfig configures the room notification. An empty URL disables it.
type NotifyConfig struct {
	URL     string
	Domain  string
	Timeout time.Duration
}

type RateLimitConfig struct {
	PerHour int
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	portal := session.DefaultPortal()
	return Config{
		Addr: ":8080",

		Driver:       DriverLocal,
		Headless:     true,
		DockerImage:  "browserless/chrome:latest",
		MaxSessions:  10,
		StartTimeout: 60 * time.Second,

		CredentialTimeout: 5 * time.Second,
		OTPTimeout:        60 * time.Second,
		PageTimeout:       30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		SweepInterval:     time.Minute,

		NoOTPPolicy: string(session.NoOTPFail),
		ExtractMode: string(extract.ModeEmail),

		Portal: PortalConfig{
			LoginURL:            portal.LoginURL,
			DashboardPattern:    portal.DashboardURLPattern,
			OverviewURL:         portal.OverviewURL,
			CourseURLTemplate:   portal.CourseURLTemplate,
			UsernameSelector:    portal.UsernameSelector,
			PasswordSelector:    portal.PasswordSelector,
			LoginButtonSelector: portal.LoginButtonSelector,
			OTPSelector:         portal.OTPSelector,
			OTPSubmitSelector:   portal.OTPSubmitSelector,
		},
		Notify: NotifyConfig{
			Domain:  "unifyhn.de",
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerHour: 100,
			Burst:   10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must be set")
	}
	switch c.Driver {
	case DriverLocal, DriverDocker:
	default:
		return fmt.Errorf("unknown driver %q, expected %s or %s", c.Driver, DriverLocal, DriverDocker)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max-sessions must be at least 1, got %d", c.MaxSessions)
	}

	for name, d := range map[string]time.Duration{
		"start-timeout":      c.StartTimeout,
		"credential-timeout": c.CredentialTimeout,
		"otp-timeout":        c.OTPTimeout,
		"page-timeout":       c.PageTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.IdleTimeout < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("idle-timeout and sweep-interval must not be negative")
	}

	switch session.NoOTPPolicy(c.NoOTPPolicy) {
	case session.NoOTPFail, session.NoOTPContinue:
	default:
		return fmt.Errorf("unknown no-otp-policy %q, expected %s or %s",
			c.NoOTPPolicy, session.NoOTPFail, session.NoOTPContinue)
	}
	if _, err := extract.ParseMode(c.ExtractMode); err != nil {
		return err
	}

	if err := c.Portal.validate(); err != nil {
		return err
	}

	if c.Notify.URL != "" && c.Notify.Domain == "" {
		return fmt.Errorf("notify-domain must be set when notify-url is")
	}
	if c.RateLimit.PerHour <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate-limit-per-hour and rate-limit-burst must be positive")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unknown log-format %q, expected %s or %s", c.Log.Format, LogFormatText, LogFormatJSON)
	}
	return nil
}

func (p PortalConfig) validate() error {
	for name, value := range map[string]string{
		"portal-login-url":           p.LoginURL,
		"portal-dashboard-pattern":   p.DashboardPattern,
		"portal-overview-url":        p.OverviewURL,
		"portal-username-selector":   p.UsernameSelector,
		"portal-password-selector":   p.PasswordSelector,
		"portal-login-selector":      p.LoginButtonSelector,
		"portal-otp-selector":        p.OTPSelector,
		"portal-otp-submit-selector": p.OTPSubmitSelector,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", name)
		}
	}

	// The template goes through fmt.Sprintf, so %s must be its only verb.
	if strings.Count(p.CourseURLTemplate, "%") != 1 || !strings.Contains(p.CourseURLTemplate, "%s") {
		return fmt.Errorf("portal-course-url must contain exactly one %%s and no other %%, got %q", p.CourseURLTemplate)
	}
	return nil
}

// SessionOptions translates the configuration for session.NewManager.
func (c Config) SessionOptions() session.Options {
	mode, _ := extract.ParseMode(c.ExtractMode)
	return session.Options{
		Portal: session.Portal{
			LoginURL:            c.Portal.LoginURL,
			DashboardURLPattern: c.Portal.DashboardPattern,
			OverviewURL:         c.Portal.OverviewURL,
			CourseURLTemplate:   c.Portal.CourseURLTemplate,
			UsernameSelector:    c.Portal.UsernameSelector,
			PasswordSelector:    c.Portal.PasswordSelector,
			LoginButtonSelector: c.Portal.LoginButtonSelector,
			OTPSelector:         c.Portal.OTPSelector,
			OTPSubmitSelector:   c.Portal.OTPSubmitSelector,
		},
		Mode:              mode,
		CredentialTimeout: c.CredentialTimeout,
		OTPTimeout:        c.OTPTimeout,
		PageTimeout:       c.PageTimeout,
		IdleTimeout:       c.IdleTimeout,
		SweepInterval:     c.SweepInterval,
		NoOTPPolicy:       session.NoOTPPolicy(c.NoOTPPolicy),
		MaxSessions:       int64(c.MaxSessions),
		NotifyTimeout:     c.Notify.Timeout,
	}
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func (c LogConfig) ConfigureLogging() error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	if c.Format == LogFormatJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
