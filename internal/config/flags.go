package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ROSTERSYNC_OTP_TIMEOUT.
const EnvPrefix = "ROSTERSYNC"

type configKey string

func (c configKey) EnvName() string {
	return EnvPrefix + "_" + strings.ReplaceAll(strings.ToUpper(string(c)), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(string(c), "-", "_")
}

func (c configKey) FlagName() string {
	return string(c)
}

// Loader binds every setting to a flag, an environment variable and a
// default, in increasing order of precedence: default, env, flag.
type Loader struct {
	v *viper.Viper
}

func (l *Loader) bind(flags *pflag.FlagSet, name configKey, value interface{}) {
	_ = l.v.BindEnv(name.AccessPath(), name.EnvName())
	_ = l.v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	l.v.SetDefault(name.AccessPath(), value)
}

func (l *Loader) registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	l.bind(flags, name, value)
}

func (l *Loader) registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	l.bind(flags, name, value)
}

func (l *Loader) registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	l.bind(flags, name, value)
}

func (l *Loader) registerDuration(flags *pflag.FlagSet, name configKey, value time.Duration, usage string) {
	flags.Duration(name.FlagName(), value, usage)
	l.bind(flags, name, value)
}

// NewLoader registers the configuration flags on flags.
func NewLoader(flags *pflag.FlagSet) *Loader {
	l := &Loader{v: viper.New()}
	l.v.SetTypeByDefaultValue(true)

	d := Default()

	l.registerString(flags, "addr", d.Addr, "address the HTTP server listens on")

	l.registerString(flags, "driver", d.Driver, "browser driver, local or docker")
	l.registerBool(flags, "headless", d.Headless, "run the local browser headless")
	l.registerString(flags, "chrome-path", d.ChromePath, "path of the local Chrome binary")
	l.registerString(flags, "docker-image", d.DockerImage, "browser image for the docker driver")
	l.registerInt(flags, "max-sessions", d.MaxSessions, "maximum number of concurrent browsers")
	l.registerDuration(flags, "start-timeout", d.StartTimeout, "how long a browser may take to start")

	l.registerDuration(flags, "credential-timeout", d.CredentialTimeout,
		"how long to wait for the OTP field after submitting credentials")
	l.registerDuration(flags, "otp-timeout", d.OTPTimeout,
		"how long to wait for the dashboard after submitting the OTP")
	l.registerDuration(flags, "page-timeout", d.PageTimeout, "bound of a single page operation")
	l.registerDuration(flags, "idle-timeout", d.IdleTimeout, "idle time after which a session expires, 0 disables")
	l.registerDuration(flags, "sweep-interval", d.SweepInterval, "how often idle sessions are expired")

	l.registerString(flags, "no-otp-policy", d.NoOTPPolicy,
		"what a missing OTP field means: fail (rejected credentials) or continue (wait for the dashboard)")
	l.registerString(flags, "extract-mode", d.ExtractMode, "roster column to collect: email or username")

	l.registerString(flags, "portal-login-url", d.Portal.LoginURL, "identity provider login URL")
	l.registerString(flags, "portal-dashboard-pattern", d.Portal.DashboardPattern,
		"substring of the location once logged in")
	l.registerString(flags, "portal-overview-url", d.Portal.OverviewURL, "membership overview URL")
	l.registerString(flags, "portal-course-url", d.Portal.CourseURLTemplate,
		"course member page URL with one %s for the ref_id")
	l.registerString(flags, "portal-username-selector", d.Portal.UsernameSelector, "username input selector")
	l.registerString(flags, "portal-password-selector", d.Portal.PasswordSelector, "password input selector")
	l.registerString(flags, "portal-login-selector", d.Portal.LoginButtonSelector, "login button selector")
	l.registerString(flags, "portal-otp-selector", d.Portal.OTPSelector, "OTP input selector")
	l.registerString(flags, "portal-otp-submit-selector", d.Portal.OTPSubmitSelector, "OTP submit button selector")

	l.registerString(flags, "notify-url", d.Notify.URL, "room provisioning endpoint, empty disables notifications")
	l.registerString(flags, "notify-domain", d.Notify.Domain, "chat domain users are addressed in")
	l.registerDuration(flags, "notify-timeout", d.Notify.Timeout, "timeout of a room notification")

	l.registerInt(flags, "rate-limit-per-hour", d.RateLimit.PerHour, "requests per hour per client")
	l.registerInt(flags, "rate-limit-burst", d.RateLimit.Burst, "request burst per client")

	l.registerString(flags, "log-level", d.Log.Level,
		"choose logging level from [trace, debug, info, warn, error, fatal]")
	l.registerString(flags, "log-format", d.Log.Format, "log format, text or json")

	return l
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	v := l.v
	c := &Config{
		Addr: v.GetString("addr"),

		Driver:       strings.ToLower(v.GetString("driver")),
		Headless:     v.GetBool("headless"),
		ChromePath:   v.GetString("chrome_path"),
		DockerImage:  v.GetString("docker_image"),
		MaxSessions:  v.GetInt("max_sessions"),
		StartTimeout: v.GetDuration("start_timeout"),

		CredentialTimeout: v.GetDuration("credential_timeout"),
		OTPTimeout:        v.GetDuration("otp_timeout"),
		PageTimeout:       v.GetDuration("page_timeout"),
		IdleTimeout:       v.GetDuration("idle_timeout"),
		SweepInterval:     v.GetDuration("sweep_interval"),

		NoOTPPolicy: strings.ToLower(v.GetString("no_otp_policy")),
		ExtractMode: strings.ToLower(v.GetString("extract_mode")),

		Portal: PortalConfig{
			LoginURL:            v.GetString("portal_login_url"),
			DashboardPattern:    v.GetString("portal_dashboard_pattern"),
			OverviewURL:         v.GetString("portal_overview_url"),
			CourseURLTemplate:   v.GetString("portal_course_url"),
			UsernameSelector:    v.GetString("portal_username_selector"),
			PasswordSelector:    v.GetString("portal_password_selector"),
			LoginButtonSelector: v.GetString("portal_login_selector"),
			OTPSelector:         v.GetString("portal_otp_selector"),
			OTPSubmitSelector:   v.GetString("portal_otp_submit_selector"),
		},
		Notify: NotifyConfig{
			URL:     v.GetString("notify_url"),
			Domain:  v.GetString("notify_domain"),
			Timeout: v.GetDuration("notify_timeout"),
		},
		RateLimit: RateLimitConfig{
			PerHour: v.GetInt("rate_limit_per_hour"),
			Burst:   v.GetInt("rate_limit_burst"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
