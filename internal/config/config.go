// Package config builds the immutable service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingAccessSecret  = errors.New("JWT_ACCESS_SECRET is required")
	ErrMissingRefreshSecret = errors.New("JWT_REFRESH_SECRET is required")
	ErrSharedSecret         = errors.New("access and refresh secrets must differ")
)

// TokenDomain configures one signing domain (access or refresh).
type TokenDomain struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

type OTP struct {
	Expiry       time.Duration
	MaxAttempts  int
	ResendWindow time.Duration
	Retention    time.Duration
}

type Login struct {
	MaxFailed   int
	LockMinutes int
}

type SMTP struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether outgoing mail is configured.
func (s SMTP) Enabled() bool { return s.Host != "" }

type RateLimit struct {
	RedisURL  string
	PerMinute int
}

// Config is read once in main and handed to every component by value.
type Config struct {
	Env             string
	HTTPAddr        string
	Access          TokenDomain
	Refresh         TokenDomain
	OTP             OTP
	Login           Login
	SMTP            SMTP
	RateLimit       RateLimit
	JanitorSchedule string
	// TrustedProxies lists CIDRs or addresses whose forwarding headers are honoured.
	TrustedProxies []string
}

// Production reports whether cookies must carry the Secure flag.
func (c Config) Production() bool { return c.Env == "production" }

// Janitor is the subset the standalone cleanup binary needs. It carries no
// signing secrets.
type Janitor struct {
	Env      string
	Schedule string
	OTP      OTP
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// LoadJanitor reads the cleanup configuration from the process environment.
func LoadJanitor() (Janitor, error) {
	return JanitorFromLookup(os.LookupEnv)
}

type reader func(string) (string, bool)

func (lookup reader) get(key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (lookup reader) intOr(key string, def int) (int, error) {
	v := lookup.get(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: invalid positive integer %q", key, v)
	}
	return n, nil
}

func (lookup reader) durOr(key string, def time.Duration) (time.Duration, error) {
	v := lookup.get(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func (lookup reader) otp() (OTP, error) {
	var o OTP
	minutes, err := lookup.intOr("OTP_EXPIRY_MINUTES", 10)
	if err != nil {
		return o, err
	}
	o.Expiry = time.Duration(minutes) * time.Minute
	if o.MaxAttempts, err = lookup.intOr("OTP_MAX_ATTEMPTS", 3); err != nil {
		return o, err
	}
	resend, err := lookup.intOr("OTP_RESEND_SECONDS", 60)
	if err != nil {
		return o, err
	}
	o.ResendWindow = time.Duration(resend) * time.Second
	retention, err := lookup.intOr("OTP_RETENTION_HOURS", 24)
	if err != nil {
		return o, err
	}
	o.Retention = time.Duration(retention) * time.Hour
	return o, nil
}

// JanitorFromLookup builds a Janitor config from an arbitrary lookup function.
func JanitorFromLookup(lookup func(string) (string, bool)) (Janitor, error) {
	r := reader(lookup)
	o, err := r.otp()
	if err != nil {
		return Janitor{}, err
	}
	return Janitor{
		Env:      r.get("APP_ENV", "development"),
		Schedule: r.get("JANITOR_SCHEDULE", "@every 1h"),
		OTP:      o,
	}, nil
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader(lookup)

	accessSecret := r.get("JWT_ACCESS_SECRET", "")
	if accessSecret == "" {
		return Config{}, ErrMissingAccessSecret
	}
	refreshSecret := r.get("JWT_REFRESH_SECRET", "")
	if refreshSecret == "" {
		return Config{}, ErrMissingRefreshSecret
	}
	if accessSecret == refreshSecret {
		return Config{}, ErrSharedSecret
	}

	var err error
	cfg := Config{
		Env:             r.get("APP_ENV", "development"),
		HTTPAddr:        r.get("HTTP_ADDR", "0.0.0.0:8431"),
		JanitorSchedule: r.get("JANITOR_SCHEDULE", "@every 1h"),
		Access: TokenDomain{
			Secret:   []byte(accessSecret),
			Issuer:   r.get("JWT_ACCESS_ISSUER", "salon-api"),
			Audience: r.get("JWT_ACCESS_AUDIENCE", "salon-web"),
		},
		Refresh: TokenDomain{
			Secret:   []byte(refreshSecret),
			Issuer:   r.get("JWT_REFRESH_ISSUER", "salon-api"),
			Audience: r.get("JWT_REFRESH_AUDIENCE", "salon-refresh"),
		},
		SMTP: SMTP{
			Host:     r.get("SMTP_HOST", ""),
			User:     r.get("SMTP_USER", ""),
			Password: r.get("SMTP_PASSWORD", ""),
			From:     r.get("SMTP_FROM", "no-reply@salon.local"),
		},
		RateLimit: RateLimit{RedisURL: r.get("REDIS_URL", "")},
	}
	for _, p := range strings.Split(r.get("TRUSTED_PROXIES", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, p)
		}
	}
	if cfg.Access.TTL, err = r.durOr("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Refresh.TTL, err = r.durOr("JWT_REFRESH_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OTP, err = r.otp(); err != nil {
		return Config{}, err
	}
	if cfg.Login.MaxFailed, err = r.intOr("LOGIN_MAX_FAILED", 5); err != nil {
		return Config{}, err
	}
	if cfg.Login.LockMinutes, err = r.intOr("LOGIN_LOCK_MINUTES", 15); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = r.intOr("SMTP_PORT", 587); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.PerMinute, err = r.intOr("RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
