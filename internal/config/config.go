// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
)

// Config holds the entire application configuration. All external credentials
// and endpoints live here; components never read ambient environment state
// themselves, they are handed the section they need at construction time.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Mail     MailConfig     `mapstructure:"mail" yaml:"mail"`
	SMS      SMSConfig      `mapstructure:"sms" yaml:"sms"`
	Captcha  CaptchaConfig  `mapstructure:"captcha" yaml:"captcha"`
	Signup   SignupConfig   `mapstructure:"signup" yaml:"signup"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the automation browser instances.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ProfileDir is the persistent user-data directory. Cookies and storage
	// survive across runs of the same platform; a lock file inside it keeps
	// concurrent runs from sharing one session.
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// LLMConfig configures the model that drives the browser agent.
type LLMConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// MailConfig configures the hosted inbox used for email verification codes.
type MailConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	InboxID string `mapstructure:"inbox_id" yaml:"inbox_id"`
	// RequestsPerSecond caps polling pressure on the inbox API.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// SMSConfig configures the SMS log used for phone verification codes.
// Optional: only required when a run resolves to an SMS-verified platform.
type SMSConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	AccountSID        string  `mapstructure:"account_sid" yaml:"-"`
	AuthToken         string  `mapstructure:"auth_token" yaml:"-"`
	PhoneNumber       string  `mapstructure:"phone_number" yaml:"phone_number"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// CaptchaConfig configures the third-party solving backend.
// Optional: only required when a run actually encounters a challenge.
type CaptchaConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SolveTimeout time.Duration `mapstructure:"solve_timeout" yaml:"solve_timeout"`
}

// SignupConfig holds the run-level policy knobs.
type SignupConfig struct {
	VerificationTimeout time.Duration `mapstructure:"verification_timeout" yaml:"verification_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// EmailDomain is appended to reserved inbox handles when the mail
	// provider does not dictate one.
	EmailDomain string `mapstructure:"email_domain" yaml:"email_domain"`
}

// DatabaseConfig holds the optional account-vault connection string. When
// empty, terminal runs are not persisted.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autosign")
	v.SetDefault("logger.log_file", "autosign.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "~/.config/autosign/profiles/persistent")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.step_timeout", "30s")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)

	// -- Mail --
	v.SetDefault("mail.base_url", "https://api.agentmail.to/v0")
	v.SetDefault("mail.requests_per_second", 2.0)

	// -- SMS --
	v.SetDefault("sms.base_url", "https://api.twilio.com/2010-04-01")
	v.SetDefault("sms.requests_per_second", 1.0)

	// -- Captcha --
	v.SetDefault("captcha.base_url", "https://2captcha.com")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("captcha.solve_timeout", "45s")

	// -- Signup policy --
	v.SetDefault("signup.verification_timeout", "120s")
	v.SetDefault("signup.poll_interval", "5s")
	v.SetDefault("signup.email_domain", "agentmail.to")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "AUTOSIGN_LLM_API_KEY")
	v.BindEnv("mail.api_key", "AUTOSIGN_MAIL_API_KEY")
	v.BindEnv("mail.inbox_id", "AUTOSIGN_MAIL_INBOX_ID")
	v.BindEnv("sms.account_sid", "AUTOSIGN_SMS_ACCOUNT_SID")
	v.BindEnv("sms.auth_token", "AUTOSIGN_SMS_AUTH_TOKEN")
	v.BindEnv("captcha.api_key", "AUTOSIGN_CAPTCHA_API_KEY")
	v.BindEnv("database.url", "AUTOSIGN_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the always-required fields. Missing credentials surface here
// as a configuration error before any run starts, never mid-run as a spurious
// automation failure.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.api_key (AUTOSIGN_LLM_API_KEY) is required", schemas.ErrConfiguration)
	}
	if c.Mail.APIKey == "" {
		return fmt.Errorf("%w: mail.api_key (AUTOSIGN_MAIL_API_KEY) is required", schemas.ErrConfiguration)
	}
	if c.Mail.InboxID == "" {
		return fmt.Errorf("%w: mail.inbox_id (AUTOSIGN_MAIL_INBOX_ID) is required", schemas.ErrConfiguration)
	}
	if c.Signup.VerificationTimeout <= 0 {
		return fmt.Errorf("%w: signup.verification_timeout must be positive", schemas.ErrConfiguration)
	}
	if c.Signup.PollInterval <= 0 {
		return fmt.Errorf("%w: signup.poll_interval must be positive", schemas.ErrConfiguration)
	}
	if c.Captcha.PollInterval <= 0 || c.Captcha.SolveTimeout <= 0 {
		return fmt.Errorf("%w: captcha.poll_interval and captcha.solve_timeout must be positive", schemas.ErrConfiguration)
	}
	return nil
}

// ValidateChannel checks the credentials needed for one verification channel.
// Called before CONFIGURING once the interpreter has resolved a platform, so
// an SMS platform with unset Twilio credentials fails fast.
func (c *Config) ValidateChannel(kind schemas.VerificationChannelKind) error {
	switch kind {
	case schemas.ChannelSMS:
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.PhoneNumber == "" {
			return fmt.Errorf("%w: sms.account_sid, sms.auth_token and sms.phone_number are required for SMS-verified platforms", schemas.ErrConfiguration)
		}
	case schemas.ChannelEmail, schemas.ChannelNone:
		// Mail credentials are validated unconditionally in Validate.
	default:
		return fmt.Errorf("%w: unknown verification channel %q", schemas.ErrConfiguration, kind)
	}
	return nil
}
