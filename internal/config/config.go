package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. MSGE2E_BROWSER_HEADLESS.
const EnvPrefix = "MSGE2E"

// Config represents the harness configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// AppConfig describes how to bring up the application under test.
// When BaseURL is set the harness attaches to an already running instance
// and Command is ignored.
type AppConfig struct {
	Command        string        `mapstructure:"command"`
	Args           []string      `mapstructure:"args"`
	WorkDir        string        `mapstructure:"workdir"`
	Env            []string      `mapstructure:"env"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	BaseURL        string        `mapstructure:"base_url"`
	HealthPath     string        `mapstructure:"health_path"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	KeepDir        bool          `mapstructure:"keep_dir"`
}

type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless"`
	SlowMo       int           `mapstructure:"slow_mo"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Width        int           `mapstructure:"width"`
	Height       int           `mapstructure:"height"`
	Screenshots  bool          `mapstructure:"screenshots"`
	Videos       bool          `mapstructure:"videos"`
	ArtifactsDir string        `mapstructure:"artifacts_dir"`
	SkipInstall  bool          `mapstructure:"skip_install"`
}

type ProtocolConfig struct {
	ModalTimeout     time.Duration `mapstructure:"modal_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	KeyDelay         time.Duration `mapstructure:"key_delay"`
	ClearSettle      time.Duration `mapstructure:"clear_settle"`
	MaxClearAttempts int           `mapstructure:"max_clear_attempts"`
	Text             string        `mapstructure:"text"`
}

type AuthConfig struct {
	AdminPassword string `mapstructure:"admin_password"`
}

// SetDefaults registers the built-in defaults on v
func SetDefaults(v *viper.Viper) {
	// Keys without a default still need registering so env overrides reach Unmarshal.
	v.SetDefault("app.command", "")
	v.SetDefault("app.base_url", "")
	v.SetDefault("app.workdir", "")
	v.SetDefault("auth.admin_password", "")

	v.SetDefault("app.host", "127.0.0.1")
	v.SetDefault("app.port", 0)
	v.SetDefault("app.health_path", "/healthz")
	v.SetDefault("app.startup_timeout", 30*time.Second)
	v.SetDefault("app.stop_timeout", 5*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.slow_mo", 0)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)
	v.SetDefault("browser.screenshots", true)
	v.SetDefault("browser.videos", false)
	v.SetDefault("browser.artifacts_dir", "./test-results")

	v.SetDefault("protocol.modal_timeout", 5*time.Second)
	v.SetDefault("protocol.poll_interval", 100*time.Millisecond)
	v.SetDefault("protocol.key_delay", 10*time.Millisecond)
	v.SetDefault("protocol.clear_settle", 500*time.Millisecond)
	v.SetDefault("protocol.max_clear_attempts", 4)
	v.SetDefault("protocol.text", "# hello world")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadDotEnv loads .env if present. Existing environment variables take
// precedence and are not overwritten.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("[e2e-config] ignoring unreadable .env: %v", err)
	}
}

// Load reads default.yaml from configPath and merges an optional config.yaml
// on top. A missing default.yaml is not an error; built-in defaults apply.
func Load(configPath string) (*Config, error) {
	loadDotEnv()
	v := newViper()

	if configPath != "" {
		v.AddConfigPath(configPath)
		v.SetConfigName("default")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read default config: %w", err)
			}
		}

		// Environment-specific overrides (optional)
		v.SetConfigName("config")
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to merge config: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(configFile string) (*Config, error) {
	loadDotEnv()
	v := newViper()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Printf("[e2e-config] app=%q base_url=%q headless=%v", cfg.App.Command, cfg.App.BaseURL, cfg.Browser.Headless)
	return cfg, nil
}

// Validate checks the configuration for values the harness cannot run with
func (c *Config) Validate() error {
	if c.App.Command == "" && c.App.BaseURL == "" {
		return fmt.Errorf("config: either app.command or app.base_url must be set")
	}
	if c.App.Port < 0 || c.App.Port > 65535 {
		return fmt.Errorf("config: app.port %d out of range", c.App.Port)
	}
	if c.App.StartupTimeout <= 0 {
		return fmt.Errorf("config: app.startup_timeout must be positive")
	}
	if c.Protocol.ModalTimeout <= 0 {
		return fmt.Errorf("config: protocol.modal_timeout must be positive")
	}
	if c.Protocol.PollInterval <= 0 || c.Protocol.PollInterval > c.Protocol.ModalTimeout {
		return fmt.Errorf("config: protocol.poll_interval must be positive and below modal_timeout")
	}
	if c.Protocol.ClearSettle <= 0 || c.Protocol.ClearSettle > c.Protocol.ModalTimeout {
		return fmt.Errorf("config: protocol.clear_settle must be positive and below modal_timeout")
	}
	if c.Protocol.MaxClearAttempts < 1 {
		return fmt.Errorf("config: protocol.max_clear_attempts must be at least 1")
	}
	if c.Protocol.Text == "" {
		return fmt.Errorf("config: protocol.text must not be empty")
	}
	return nil
}

// IsExternal reports whether the harness attaches to a running instance
func (c *AppConfig) IsExternal() bool {
	return c.BaseURL != ""
}
