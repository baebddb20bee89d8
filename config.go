package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TOPUP"

type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Logger     LoggerConfig     `yaml:"logger" mapstructure:"logger"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Captcha    CaptchaConfig    `yaml:"captcha" mapstructure:"captcha"`
	Account    AccountConfig    `yaml:"account" mapstructure:"account"`
	Shop       ShopConfig       `yaml:"shop" mapstructure:"shop"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Tracing    TracingConfig    `yaml:"tracing" mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr                string   `yaml:"addr" mapstructure:"addr"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

type BrowserConfig struct {
	// Endpoint is the pre-authorized CDP websocket URL of the remote browser
	// provider. It usually embeds an access token.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	LaunchLocal bool `yaml:"launch_local" mapstructure:"launch_local"`
	Headless    bool `yaml:"headless" mapstructure:"headless"`

	SessionLifetimeSeconds   int    `yaml:"session_lifetime_seconds" mapstructure:"session_lifetime_seconds"`
	ViewportWidth            int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight           int    `yaml:"viewport_height" mapstructure:"viewport_height"`
	UserAgent                string `yaml:"user_agent" mapstructure:"user_agent"`
	DefaultTimeoutSeconds    int    `yaml:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
	NavigationTimeoutSeconds int    `yaml:"navigation_timeout_seconds" mapstructure:"navigation_timeout_seconds"`
	ConnectRatePerMinute     int    `yaml:"connect_rate_per_minute" mapstructure:"connect_rate_per_minute"`
}

type CaptchaConfig struct {
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	APIKey              string `yaml:"api_key" mapstructure:"api_key"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	MaxAttempts         int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxWaitSeconds      int    `yaml:"max_wait_seconds" mapstructure:"max_wait_seconds"`
}

// AccountConfig holds the storefront/payment provider credentials used by the
// sign-in and PIN steps.
type AccountConfig struct {
	Email    string `yaml:"email" mapstructure:"email"`
	Password string `yaml:"password" mapstructure:"password"`
	PIN      string `yaml:"pin" mapstructure:"pin"`
}

type ShopConfig struct {
	URL               string   `yaml:"url" mapstructure:"url"`
	ProductName       string   `yaml:"product_name" mapstructure:"product_name"`
	PaymentChannel    string   `yaml:"payment_channel" mapstructure:"payment_channel"`
	PaymentSubchannel string   `yaml:"payment_subchannel" mapstructure:"payment_subchannel"`
	ProviderName      string   `yaml:"provider_name" mapstructure:"provider_name"`
	SuccessFragments  []string `yaml:"success_fragments" mapstructure:"success_fragments"`
	FailureFragments  []string `yaml:"failure_fragments" mapstructure:"failure_fragments"`
}

type AutomationConfig struct {
	RunTimeoutSeconds int     `yaml:"run_timeout_seconds" mapstructure:"run_timeout_seconds"`
	SelectorTimeoutMs int     `yaml:"selector_timeout_ms" mapstructure:"selector_timeout_ms"`
	SuccessWaitMs     int     `yaml:"success_wait_ms" mapstructure:"success_wait_ms"`
	FailureWaitMs     int     `yaml:"failure_wait_ms" mapstructure:"failure_wait_ms"`
	OTPWaitMs         int     `yaml:"otp_wait_ms" mapstructure:"otp_wait_ms"`
	ScreenshotDir     string  `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	QueueSize         int     `yaml:"queue_size" mapstructure:"queue_size"`
	DelayScale        float64 `yaml:"delay_scale" mapstructure:"delay_scale"`
	DebugMode         bool    `yaml:"debug_mode" mapstructure:"debug_mode"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" mapstructure:"topic"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
}

// SecretKeys are the only configuration keys that may carry credentials. They
// are never written back by Save and are expected to come from the
// environment (TOPUP_BROWSER_ENDPOINT, ...) or an operator-managed file.
var SecretKeys = []string{
	"browser.endpoint",
	"captcha.api_key",
	"account.email",
	"account.password",
	"account.pin",
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8001",
			CORSOrigins:         []string{"*"},
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 30,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Browser: BrowserConfig{
			Headless:                 true,
			SessionLifetimeSeconds:   900,
			ViewportWidth:            1920,
			ViewportHeight:           1080,
			UserAgent:                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			DefaultTimeoutSeconds:    60,
			NavigationTimeoutSeconds: 90,
			ConnectRatePerMinute:     10,
		},
		Captcha: CaptchaConfig{
			BaseURL:             "https://api.solvecaptcha.com",
			PollIntervalSeconds: 3,
			MaxAttempts:         40,
			MaxWaitSeconds:      120,
		},
		Shop: ShopConfig{
			URL:               "https://shop.garena.my/",
			ProductName:       "Free Fire",
			PaymentChannel:    "Wallet",
			PaymentSubchannel: "UP Points",
			ProviderName:      "UniPin",
			SuccessFragments:  []string{"transaction successful", "payment successful", "success", "completed", "thank you"},
			FailureFragments:  []string{"failed", "error", "unsuccessful", "insufficient"},
		},
		Automation: AutomationConfig{
			RunTimeoutSeconds: 900,
			SelectorTimeoutMs: 5000,
			SuccessWaitMs:     10000,
			FailureWaitMs:     3000,
			OTPWaitMs:         3000,
			ScreenshotDir:     filepath.Join(getUserDataDir(), "screenshots"),
			Workers:           2,
			QueueSize:         100,
			DelayScale:        1.0,
		},
		Kafka: KafkaConfig{
			Topic:    "topup.order-status",
			ClientID: "topup",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			ServiceName: "topup",
		},
	}
}

// setDefaults registers every recognized key with viper. Keys unknown to viper
// are not picked up from the environment by Unmarshal, so the secrets are
// registered with empty defaults as well.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeoutSeconds)
	v.SetDefault("server.write_timeout_seconds", d.Server.WriteTimeoutSeconds)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.file", d.Logger.File)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)
	v.SetDefault("logger.compress", d.Logger.Compress)

	v.SetDefault("browser.endpoint", "")
	v.SetDefault("browser.launch_local", d.Browser.LaunchLocal)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.session_lifetime_seconds", d.Browser.SessionLifetimeSeconds)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.default_timeout_seconds", d.Browser.DefaultTimeoutSeconds)
	v.SetDefault("browser.navigation_timeout_seconds", d.Browser.NavigationTimeoutSeconds)
	v.SetDefault("browser.connect_rate_per_minute", d.Browser.ConnectRatePerMinute)

	v.SetDefault("captcha.base_url", d.Captcha.BaseURL)
	v.SetDefault("captcha.api_key", "")
	v.SetDefault("captcha.poll_interval_seconds", d.Captcha.PollIntervalSeconds)
	v.SetDefault("captcha.max_attempts", d.Captcha.MaxAttempts)
	v.SetDefault("captcha.max_wait_seconds", d.Captcha.MaxWaitSeconds)

	v.SetDefault("account.email", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.pin", "")

	v.SetDefault("shop.url", d.Shop.URL)
	v.SetDefault("shop.product_name", d.Shop.ProductName)
	v.SetDefault("shop.payment_channel", d.Shop.PaymentChannel)
	v.SetDefault("shop.payment_subchannel", d.Shop.PaymentSubchannel)
	v.SetDefault("shop.provider_name", d.Shop.ProviderName)
	v.SetDefault("shop.success_fragments", d.Shop.SuccessFragments)
	v.SetDefault("shop.failure_fragments", d.Shop.FailureFragments)

	v.SetDefault("automation.run_timeout_seconds", d.Automation.RunTimeoutSeconds)
	v.SetDefault("automation.selector_timeout_ms", d.Automation.SelectorTimeoutMs)
	v.SetDefault("automation.success_wait_ms", d.Automation.SuccessWaitMs)
	v.SetDefault("automation.failure_wait_ms", d.Automation.FailureWaitMs)
	v.SetDefault("automation.otp_wait_ms", d.Automation.OTPWaitMs)
	v.SetDefault("automation.screenshot_dir", d.Automation.ScreenshotDir)
	v.SetDefault("automation.workers", d.Automation.Workers)
	v.SetDefault("automation.queue_size", d.Automation.QueueSize)
	v.SetDefault("automation.delay_scale", d.Automation.DelayScale)
	v.SetDefault("automation.debug_mode", d.Automation.DebugMode)

	v.SetDefault("database.dsn", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.client_id", d.Kafka.ClientID)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the YAML file at path (if any) and overlays TOPUP_*
// environment variables. A missing file is created with the defaults so the
// operator has something to edit.
func LoadConfig(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := DefaultConfig().Save(path); err != nil {
				return nil, err
			}
		}

		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if config.Automation.ScreenshotDir != "" {
		if err := os.MkdirAll(config.Automation.ScreenshotDir, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// Save writes the configuration as YAML with every secret blanked out.
func (c *Config) Save(path string) error {
	redacted := *c
	redacted.Browser.Endpoint = ""
	redacted.Captcha.APIKey = ""
	redacted.Account = AccountConfig{}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the values a run depends on. Missing secrets are reported
// with the environment variable that supplies them.
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.Endpoint == "" && !c.Browser.LaunchLocal {
		errs = append(errs, missingSecret("browser.endpoint"))
	}
	if c.Account.Email == "" {
		errs = append(errs, missingSecret("account.email"))
	}
	if c.Account.Password == "" {
		errs = append(errs, missingSecret("account.password"))
	}
	if c.Account.PIN == "" {
		errs = append(errs, missingSecret("account.pin"))
	}

	if c.Automation.RunTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("automation.run_timeout_seconds must be positive"))
	}
	if c.Automation.Workers <= 0 {
		errs = append(errs, errors.New("automation.workers must be positive"))
	}
	if c.Automation.QueueSize <= 0 {
		errs = append(errs, errors.New("automation.queue_size must be positive"))
	}
	if c.Automation.DelayScale < 0 {
		errs = append(errs, errors.New("automation.delay_scale must not be negative"))
	}
	if c.Captcha.PollIntervalSeconds <= 0 || c.Captcha.MaxAttempts <= 0 {
		errs = append(errs, errors.New("captcha polling must use a positive interval and attempt count"))
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, errors.New("browser viewport must be positive"))
	}

	return errors.Join(errs...)
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func missingSecret(key string) error {
	return fmt.Errorf("%s is not set (use %s)", key, envName(key))
}

func secretEnvList() string {
	names := make([]string, len(SecretKeys))
	for i, k := range SecretKeys {
		names[i] = envName(k)
	}
	return strings.Join(names, ", ")
}

func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Automation.RunTimeoutSeconds) * time.Second
}

func (c *Config) SelectorTimeout() time.Duration {
	return time.Duration(c.Automation.SelectorTimeoutMs) * time.Millisecond
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.Browser.SessionLifetimeSeconds) * time.Second
}

func (c *Config) CaptchaMaxWait() time.Duration {
	return time.Duration(c.Captcha.MaxWaitSeconds) * time.Second
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./topup-data"
	}
	return filepath.Join(home, ".topup")
}
