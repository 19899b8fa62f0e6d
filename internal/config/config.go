package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// Values come from env (cmd/api loads an optional .env first).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Queue     QueueConfig
	Dispatch  DispatchConfig
	Events    EventsConfig
	Reconcile ReconcileConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool
	// PublicBaseURL is the externally visible origin Twilio signs webhook URLs
	// with. Needed when a proxy rewrites scheme or host.
	PublicBaseURL     string
}

// QueueConfig points at the external message-queue HTTP service.
type QueueConfig struct {
	BaseURL               string
	RequestTimeout        time.Duration
	RatePerSec            int
	Source                string
	SMSCallbackEndpoint   string
	EmailCallbackEndpoint string
	// CallbackSecret, when set, must accompany every status callback.
	CallbackSecret        string
}

type DispatchConfig struct {
	BatchSize       int
	MaxConcurrent   int
	InterBatchDelay time.Duration
	ScheduleGrace   time.Duration

	// WorkspaceSlots caps in-flight batches per workspace across processes.
	// 0 disables the cross-process cap.
	WorkspaceSlots int
	LockTTL        time.Duration
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type ReconcileConfig struct {
	Schedule string
}

func Load() (Config, error) {
	c := Config{}
	p := &parser{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = p.requiredInt("APP_PORT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = p.requiredInt("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = p.requiredInt("REDIS_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = p.optionalDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = p.optionalDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.ValidateSignature = p.optionalBool("TWILIO_VALIDATE_SIGNATURE")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL")), "/")

	c.Queue.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("QUEUE_BASE_URL")), "/")
	c.Queue.RequestTimeout = p.optionalDuration("QUEUE_REQUEST_TIMEOUT")
	c.Queue.RatePerSec = p.optionalInt("QUEUE_RATE_PER_SEC")
	c.Queue.Source = strings.TrimSpace(os.Getenv("QUEUE_SOURCE"))
	c.Queue.SMSCallbackEndpoint = strings.TrimSpace(os.Getenv("SMS_CALLBACK_ENDPOINT"))
	c.Queue.EmailCallbackEndpoint = strings.TrimSpace(os.Getenv("EMAIL_CALLBACK_ENDPOINT"))
	c.Queue.CallbackSecret = os.Getenv("QUEUE_CALLBACK_SECRET")

	c.Dispatch.BatchSize = p.optionalInt("DISPATCH_BATCH_SIZE")
	c.Dispatch.MaxConcurrent = p.optionalInt("DISPATCH_MAX_CONCURRENT")
	c.Dispatch.InterBatchDelay = p.durationOr("DISPATCH_INTER_BATCH_DELAY", time.Second)
	c.Dispatch.ScheduleGrace = p.optionalDuration("DISPATCH_SCHEDULE_GRACE")
	c.Dispatch.WorkspaceSlots = p.optionalInt("DISPATCH_WORKSPACE_SLOTS")
	c.Dispatch.LockTTL = p.optionalDuration("DISPATCH_LOCK_TTL")

	c.Events.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	c.Events.Exchange = strings.TrimSpace(os.Getenv("AMQP_EXCHANGE"))

	c.Reconcile.Schedule = strings.TrimSpace(os.Getenv("RECONCILE_SCHEDULE"))

	if err := joinErrors(p.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set"))
	}
	if c.Twilio.PublicBaseURL != "" && !isHTTPURL(c.Twilio.PublicBaseURL) {
		errs = append(errs, fmt.Errorf("TWILIO_PUBLIC_BASE_URL must be an http(s) URL, got %q", c.Twilio.PublicBaseURL))
	}

	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateDispatch()...)

	if c.Events.Exchange == "" {
		c.Events.Exchange = "broadcast.events"
	}
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = "@every 1m"
	}

	return joinErrors(errs)
}

func (c *Config) validateQueue() []error {
	var errs []error
	if c.Queue.BaseURL == "" {
		errs = append(errs, errors.New("QUEUE_BASE_URL is required"))
	} else if !isHTTPURL(c.Queue.BaseURL) {
		errs = append(errs, fmt.Errorf("QUEUE_BASE_URL must be an http(s) URL, got %q", c.Queue.BaseURL))
	}
	if c.Queue.SMSCallbackEndpoint == "" {
		errs = append(errs, errors.New("SMS_CALLBACK_ENDPOINT is required"))
	}
	if c.Queue.EmailCallbackEndpoint == "" {
		errs = append(errs, errors.New("EMAIL_CALLBACK_ENDPOINT is required"))
	}
	if c.Queue.CallbackSecret == "" && c.IsProduction() {
		errs = append(errs, errors.New("QUEUE_CALLBACK_SECRET is required in production"))
	}
	if c.Queue.RequestTimeout <= 0 {
		c.Queue.RequestTimeout = 15 * time.Second
	}
	if c.Queue.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_RATE_PER_SEC must be >= 0, got %d", c.Queue.RatePerSec))
	} else if c.Queue.RatePerSec == 0 {
		c.Queue.RatePerSec = 20
	}
	if c.Queue.Source == "" {
		c.Queue.Source = "broadcast-platform"
	}
	return errs
}

func (c *Config) validateDispatch() []error {
	var errs []error
	if c.Dispatch.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_BATCH_SIZE must be >= 1, got %d", c.Dispatch.BatchSize))
	} else if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_CONCURRENT must be >= 1, got %d", c.Dispatch.MaxConcurrent))
	} else if c.Dispatch.MaxConcurrent == 0 {
		c.Dispatch.MaxConcurrent = 3
	}
	if c.Dispatch.InterBatchDelay < 0 {
		errs = append(errs, errors.New("DISPATCH_INTER_BATCH_DELAY must be >= 0"))
	}
	if c.Dispatch.ScheduleGrace <= 0 {
		c.Dispatch.ScheduleGrace = 5 * time.Minute
	}
	if c.Dispatch.WorkspaceSlots < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_WORKSPACE_SLOTS must be >= 0, got %d", c.Dispatch.WorkspaceSlots))
	}
	if c.Dispatch.LockTTL <= 0 {
		c.Dispatch.LockTTL = 30 * time.Minute
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parser collects env parse errors so Load can report all of them at once.
type parser struct {
	errs []error
}

func (p *parser) requiredInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		p.errs = append(p.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (p *parser) optionalInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (p *parser) optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	if d < 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be >= 0", key))
		return 0
	}
	return d
}

// durationOr returns def when key is unset; an explicit "0s" is kept.
func (p *parser) durationOr(key string, def time.Duration) time.Duration {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def
	}
	return p.optionalDuration(key)
}

func (p *parser) optionalBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return false
	}
	return b
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func isHTTPURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
