package panelauth

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/session"
)

// EnvPrefix is the environment prefix read by LoadConfig.
const EnvPrefix = "PANELAUTH"

// Config is the complete Engine configuration. Every field can be set from
// the environment; see LoadConfig.
type Config struct {
	Session       SessionConfig       `envconfig:"SESSION"`
	Lockout       LockoutConfig       `envconfig:"LOCKOUT"`
	Password      PasswordConfig      `envconfig:"PASSWORD"`
	TwoFactor     TwoFactorConfig     `envconfig:"TWO_FACTOR"`
	PasswordReset PasswordResetConfig `envconfig:"RESET"`
	Tokens        TokenConfig         `envconfig:"TOKENS"`
	Grant         GrantConfig         `envconfig:"GRANT"`
	Throttle      ThrottleConfig      `envconfig:"THROTTLE"`
	Delivery      DeliveryConfig      `envconfig:"DELIVERY"`
	Settings      SettingsConfig      `envconfig:"SETTINGS"`
	Audit         AuditConfig         `envconfig:"AUDIT"`
	Metrics       MetricsConfig       `envconfig:"METRICS"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session timing.
type SessionConfig struct {
	Lifetime        time.Duration `envconfig:"LIFETIME" default:"60m"`
	PendingLifetime time.Duration `envconfig:"PENDING_LIFETIME" default:"5m"`
	ExtensionWindow time.Duration `envconfig:"EXTENSION_WINDOW" default:"5m"`
	ExtendBy        time.Duration `envconfig:"EXTEND_BY" default:"30m"`
	MaxExtensions   int           `envconfig:"MAX_EXTENSIONS" default:"16"`
}

func (c SessionConfig) store() session.Config {
	return session.Config{
		Lifetime:        c.Lifetime,
		PendingLifetime: c.PendingLifetime,
		ExtensionWindow: c.ExtensionWindow,
		ExtendBy:        c.ExtendBy,
		MaxExtensions:   c.MaxExtensions,
	}
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// LockoutConfig controls progressive account lockout. The n-th consecutive
// failure at or past Threshold locks for
// BaseDuration * Multiplier^(n-Threshold), capped at MaxDuration.
type LockoutConfig struct {
	Threshold    int           `envconfig:"THRESHOLD" default:"5"`
	BaseDuration time.Duration `envconfig:"BASE_DURATION" default:"15m"`
	Multiplier   float64       `envconfig:"MULTIPLIER" default:"2"`
	MaxDuration  time.Duration `envconfig:"MAX_DURATION" default:"24h"`
}

// Duration returns the lock length after the given failure count.
func (c LockoutConfig) Duration(failures int) time.Duration {
	if failures < c.Threshold {
		return 0
	}
	d := float64(c.BaseDuration)
	for i := c.Threshold; i < failures; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDuration) {
			return c.MaxDuration
		}
	}
	return time.Duration(d)
}

// PasswordConfig holds Argon2id costs and the length policy. Memory is in
// KiB. Costs below the password package floors are rejected.
type PasswordConfig struct {
	Memory         uint32 `envconfig:"MEMORY_KB" default:"65536"`
	Time           uint32 `envconfig:"TIME" default:"4"`
	Parallelism    uint8  `envconfig:"PARALLELISM" default:"3"`
	SaltLength     uint32 `envconfig:"SALT_LENGTH" default:"16"`
	KeyLength      uint32 `envconfig:"KEY_LENGTH" default:"32"`
	MinLength      int    `envconfig:"MIN_LENGTH" default:"12"`
	MaxLength      int    `envconfig:"MAX_LENGTH" default:"256"`
	UpgradeOnLogin bool   `envconfig:"UPGRADE_ON_LOGIN" default:"true"`
}

func (c PasswordConfig) hasher() password.Config {
	return password.Config{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

// TwoFactorConfig controls second factors.
type TwoFactorConfig struct {
	Issuer     string        `envconfig:"ISSUER" default:"Admin Panel"`
	CodeDigits int           `envconfig:"CODE_DIGITS" default:"6"`
	CodeTTL    time.Duration `envconfig:"CODE_TTL" default:"5m"`

	RecoveryCodeCount   int           `envconfig:"RECOVERY_CODE_COUNT" default:"10"`
	RecoveryMaxAttempts int           `envconfig:"RECOVERY_MAX_ATTEMPTS" default:"5"`
	RecoveryLockout     time.Duration `envconfig:"RECOVERY_LOCKOUT" default:"30m"`

	// AllowLegacySecrets accepts TOTP secrets stored before encryption.
	AllowLegacySecrets bool `envconfig:"ALLOW_LEGACY_SECRETS" default:"true"`
	// MigrateLegacySecrets re-encrypts a legacy secret on first use.
	MigrateLegacySecrets bool `envconfig:"MIGRATE_LEGACY_SECRETS" default:"true"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// PasswordResetConfig controls reset links.
type PasswordResetConfig struct {
	TTL           time.Duration `envconfig:"TTL" default:"1h"`
	MaxCandidates int           `envconfig:"MAX_CANDIDATES" default:"5"`
	LinkBase      string        `envconfig:"LINK_BASE"`
}

// TokenConfig controls the CLI and recovery token lineages.
type TokenConfig struct {
	EmergencyDefaultTTL   time.Duration `envconfig:"EMERGENCY_DEFAULT_TTL" default:"24h"`
	EmergencyMaxTTL       time.Duration `envconfig:"EMERGENCY_MAX_TTL" default:"720h"`
	RecoveryTTL           time.Duration `envconfig:"RECOVERY_TTL" default:"24h"`
	MaxRecoveryCandidates int           `envconfig:"MAX_RECOVERY_CANDIDATES" default:"20"`
	MaxEmergencyTokens    int           `envconfig:"MAX_EMERGENCY_TOKENS" default:"50"`
}

// GrantConfig controls short-lived signed CLI grants.
type GrantConfig struct {
	TTL      time.Duration `envconfig:"TTL" default:"15m"`
	Issuer   string        `envconfig:"ISSUER" default:"panelauth"`
	Audience string        `envconfig:"AUDIENCE" default:"panelauth-cli"`
	Leeway   time.Duration `envconfig:"LEEWAY" default:"30s"`
}

/*
====================================
THROTTLE & DELIVERY CONFIG
====================================
*/

// ThrottleConfig holds the Redis-backed request budgets.
type ThrottleConfig struct {
	MaxLoginPerIP int           `envconfig:"MAX_LOGIN_PER_IP" default:"10"`
	LoginWindow   time.Duration `envconfig:"LOGIN_WINDOW" default:"15m"`
	MaxTokenPerIP int           `envconfig:"MAX_TOKEN_PER_IP" default:"20"`
	TokenWindow   time.Duration `envconfig:"TOKEN_WINDOW" default:"15m"`
	MaxOTPSends   int           `envconfig:"MAX_OTP_SENDS" default:"5"`
	OTPSendWindow time.Duration `envconfig:"OTP_SEND_WINDOW" default:"15m"`
	FailOpen      bool          `envconfig:"FAIL_OPEN" default:"false"`
}

func (c ThrottleConfig) limiter() rate.Config {
	return rate.Config{
		MaxLoginPerIP: c.MaxLoginPerIP,
		LoginWindow:   c.LoginWindow,
		MaxTokenPerIP: c.MaxTokenPerIP,
		TokenWindow:   c.TokenWindow,
		MaxOTPSends:   c.MaxOTPSends,
		OTPSendWindow: c.OTPSendWindow,
		FailOpen:      c.FailOpen,
	}
}

// DeliveryConfig bounds notification calls made inside request paths.
type DeliveryConfig struct {
	Timeout time.Duration `envconfig:"TIMEOUT" default:"10s"`
}

// SettingsConfig controls the settings cache chain.
type SettingsConfig struct {
	MemoryTTL   time.Duration `envconfig:"MEMORY_TTL" default:"1m"`
	RedisTTL    time.Duration `envconfig:"REDIS_TTL" default:"10m"`
	RedisPrefix string        `envconfig:"REDIS_PREFIX" default:"pa:set:"`
	// EncryptedKeys extends the built-in encrypted allow-list.
	EncryptedKeys []string `envconfig:"ENCRYPTED_KEYS"`
}

/*
====================================
AUDIT & METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit path. Security-critical
// entries are always written synchronously.
type AuditConfig struct {
	Enabled         bool          `envconfig:"ENABLED" default:"true"`
	BufferSize      int           `envconfig:"BUFFER_SIZE" default:"1024"`
	DropIfFull      bool          `envconfig:"DROP_IF_FULL" default:"true"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	CriticalTimeout time.Duration `envconfig:"CRITICAL_TIMEOUT" default:"5s"`
}

func (c AuditConfig) dispatcher() audit.Config {
	return audit.Config{
		Enabled:      c.Enabled,
		BufferSize:   c.BufferSize,
		DropIfFull:   c.DropIfFull,
		WriteTimeout: c.WriteTimeout,
	}
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `envconfig:"ENABLED" default:"true"`
	EnableLatencyHistograms bool `envconfig:"LATENCY_HISTOGRAMS" default:"true"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. They match the envconfig
// defaults, so LoadConfig with an empty environment yields the same value.
func DefaultConfig() Config {
	sess := session.DefaultConfig()
	return Config{
		Session: SessionConfig{
			Lifetime:        sess.Lifetime,
			PendingLifetime: sess.PendingLifetime,
			ExtensionWindow: sess.ExtensionWindow,
			ExtendBy:        sess.ExtendBy,
			MaxExtensions:   sess.MaxExtensions,
		},
		Lockout: LockoutConfig{
			Threshold:    5,
			BaseDuration: 15 * time.Minute,
			Multiplier:   2,
			MaxDuration:  24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         password.MinMemoryKB,
			Time:           password.MinTime,
			Parallelism:    password.MinParallelism,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      12,
			MaxLength:      256,
			UpgradeOnLogin: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "Admin Panel",
			CodeDigits:           6,
			CodeTTL:              5 * time.Minute,
			RecoveryCodeCount:    10,
			RecoveryMaxAttempts:  5,
			RecoveryLockout:      30 * time.Minute,
			AllowLegacySecrets:   true,
			MigrateLegacySecrets: true,
		},
		PasswordReset: PasswordResetConfig{
			TTL:           time.Hour,
			MaxCandidates: 5,
		},
		Tokens: TokenConfig{
			EmergencyDefaultTTL:   24 * time.Hour,
			EmergencyMaxTTL:       30 * 24 * time.Hour,
			RecoveryTTL:           24 * time.Hour,
			MaxRecoveryCandidates: 20,
			MaxEmergencyTokens:    50,
		},
		Grant: GrantConfig{
			TTL:      15 * time.Minute,
			Issuer:   "panelauth",
			Audience: "panelauth-cli",
			Leeway:   30 * time.Second,
		},
		Throttle: ThrottleConfig{
			MaxLoginPerIP: 10,
			LoginWindow:   15 * time.Minute,
			MaxTokenPerIP: 20,
			TokenWindow:   15 * time.Minute,
			MaxOTPSends:   5,
			OTPSendWindow: 15 * time.Minute,
		},
		Delivery: DeliveryConfig{
			Timeout: 10 * time.Second,
		},
		Settings: SettingsConfig{
			MemoryTTL:   time.Minute,
			RedisTTL:    10 * time.Minute,
			RedisPrefix: "pa:set:",
		},
		Audit: AuditConfig{
			Enabled:         true,
			BufferSize:      1024,
			DropIfFull:      true,
			WriteTimeout:    5 * time.Second,
			CriticalTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate rejects configurations that would weaken a security invariant.
func (c *Config) Validate() error {
	if err := c.Session.store().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Lockout.Threshold <= 0 {
		return fmt.Errorf("%w: lockout threshold must be > 0", ErrInvalidConfig)
	}
	if c.Lockout.BaseDuration <= 0 || c.Lockout.MaxDuration < c.Lockout.BaseDuration {
		return fmt.Errorf("%w: lockout durations must satisfy 0 < base <= max", ErrInvalidConfig)
	}
	if c.Lockout.Multiplier < 1 {
		return fmt.Errorf("%w: lockout multiplier must be >= 1", ErrInvalidConfig)
	}
	if c.Password.MinLength < 8 || c.Password.MaxLength < c.Password.MinLength {
		return fmt.Errorf("%w: password length policy must satisfy 8 <= min <= max", ErrInvalidConfig)
	}
	if c.Password.MaxLength > password.DefaultMaxSecretBytes {
		return fmt.Errorf("%w: password max length exceeds hashing bound", ErrInvalidConfig)
	}
	if c.TwoFactor.CodeDigits < 6 || c.TwoFactor.CodeDigits > 10 {
		return fmt.Errorf("%w: delivered code digits must be in [6,10]", ErrInvalidConfig)
	}
	if c.TwoFactor.CodeTTL <= 0 || c.TwoFactor.CodeTTL > 15*time.Minute {
		return fmt.Errorf("%w: delivered code TTL must be in (0,15m]", ErrInvalidConfig)
	}
	if c.TwoFactor.RecoveryCodeCount <= 0 || c.TwoFactor.RecoveryMaxAttempts <= 0 || c.TwoFactor.RecoveryLockout <= 0 {
		return fmt.Errorf("%w: recovery code limits must be > 0", ErrInvalidConfig)
	}
	if c.PasswordReset.TTL <= 0 || c.PasswordReset.TTL > 24*time.Hour {
		return fmt.Errorf("%w: password reset TTL must be in (0,24h]", ErrInvalidConfig)
	}
	if c.PasswordReset.MaxCandidates <= 0 {
		return fmt.Errorf("%w: password reset candidate bound must be > 0", ErrInvalidConfig)
	}
	if c.Tokens.EmergencyDefaultTTL <= 0 || c.Tokens.EmergencyMaxTTL < c.Tokens.EmergencyDefaultTTL {
		return fmt.Errorf("%w: emergency token TTLs must satisfy 0 < default <= max", ErrInvalidConfig)
	}
	if c.Tokens.RecoveryTTL <= 0 || c.Tokens.RecoveryTTL > 24*time.Hour {
		return fmt.Errorf("%w: recovery token TTL must be in (0,24h]", ErrInvalidConfig)
	}
	if c.Tokens.MaxRecoveryCandidates <= 0 || c.Tokens.MaxEmergencyTokens <= 0 {
		return fmt.Errorf("%w: token scan bounds must be > 0", ErrInvalidConfig)
	}
	if c.Grant.TTL <= 0 || c.Grant.TTL > time.Hour {
		return fmt.Errorf("%w: grant TTL must be in (0,1h]", ErrInvalidConfig)
	}
	if c.Grant.Leeway < 0 || c.Grant.Leeway > 2*time.Minute {
		return fmt.Errorf("%w: grant leeway must be in [0,2m]", ErrInvalidConfig)
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("%w: delivery timeout must be > 0", ErrInvalidConfig)
	}
	if c.Settings.MemoryTTL <= 0 || c.Settings.RedisTTL <= 0 {
		return fmt.Errorf("%w: settings cache TTLs must be > 0", ErrInvalidConfig)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: audit buffer size must be > 0", ErrInvalidConfig)
	}
	if c.Audit.CriticalTimeout <= 0 {
		return fmt.Errorf("%w: critical audit timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

/*
====================================
ENVIRONMENT LOADING
====================================
*/

// RuntimeConfig holds process-level wiring read from the environment:
// backends, key material and notification credentials.
type RuntimeConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`

	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// EncryptionKey is the master key material. The process refuses to
	// start without it.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`

	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`
	SlackWebhook   string `envconfig:"SLACK_WEBHOOK_URL"`
	DiscordWebhook string `envconfig:"DISCORD_WEBHOOK_URL"`

	JanitorSchedule string `envconfig:"JANITOR_SCHEDULE" default:"@every 15m"`
	Timezone        string `envconfig:"TIMEZONE" default:"UTC"`
}

// LoadConfig reads a .env file when present and then the environment,
// using EnvPrefix. Unset variables keep their defaults.
func LoadConfig() (Config, RuntimeConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, RuntimeConfig{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, RuntimeConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, RuntimeConfig{}, err
	}

	var rt RuntimeConfig
	if err := envconfig.Process(EnvPrefix, &rt); err != nil {
		return Config{}, RuntimeConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if rt.EncryptionKey == "" {
		return Config{}, RuntimeConfig{}, fmt.Errorf("%w: %s_ENCRYPTION_KEY is not set", ErrMissingKeyMaterial, EnvPrefix)
	}
	return cfg, rt, nil
}
