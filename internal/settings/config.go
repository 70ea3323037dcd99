package settings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeTest = "test"
	ModeLive = "live"
)

// Config is the service configuration read once at start-up.
type Config struct {
	SecretKey      string `mapstructure:"secret_key" json:"-"`
	PublishableKey string `mapstructure:"publishable_key" json:"publishable_key"`
	LocationID     string `mapstructure:"location_id" json:"location_id,omitempty"`
	Mode           string `mapstructure:"mode" json:"mode"`
	APIURL         string `mapstructure:"api_url" json:"-"`

	Port         int                    `mapstructure:"port" json:"port"`
	Driver       string                 `mapstructure:"driver" json:"driver"`
	DriverConfig map[string]interface{} `mapstructure:"driver_config" json:"-"`
	Currency     string                 `mapstructure:"currency" json:"currency"`
	PollInterval time.Duration          `mapstructure:"poll_interval" json:"-"`

	RedisAddr     string `mapstructure:"redis_addr" json:"-"`
	RedisPassword string `mapstructure:"redis_password" json:"-"`
	RedisDB       int    `mapstructure:"redis_db" json:"-"`

	DataDir   string `mapstructure:"data_dir" json:"-"`
	LogLevel  string `mapstructure:"log_level" json:"-"`
	LogFormat string `mapstructure:"log_format" json:"-"`
}

// Environment variables per key, in precedence order.
var envBindings = map[string][]string{
	"secret_key":      {"STRIPE_SECRET_KEY"},
	"publishable_key": {"STRIPE_PUBLISHABLE_KEY", "NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY"},
	"location_id":     {"STRIPE_LOCATION_ID", "NEXT_PUBLIC_STRIPE_LOCATION_ID"},
	"mode":            {"STRIPE_MODE", "NEXT_PUBLIC_STRIPE_MODE"},
	"api_url":         {"STRIPE_API_URL"},
	"port":            {"POS_SERVICE_PORT"},
	"driver":          {"TERMINAL_DRIVER"},
	"currency":        {"POS_CURRENCY"},
	"poll_interval":   {"TERMINAL_POLL_INTERVAL"},
	"redis_addr":      {"REDIS_ADDR"},
	"redis_password":  {"REDIS_PASSWORD"},
	"redis_db":        {"REDIS_DB"},
	"data_dir":        {"POS_DATA_DIR"},
	"log_level":       {"LOG_LEVEL"},
	"log_format":      {"LOG_FORMAT"},
}

// Load reads the environment and, when configFile is set, a YAML file.
// Environment values win over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("mode", ModeTest)
	v.SetDefault("port", 8080)
	v.SetDefault("driver", "stripe")
	v.SetDefault("currency", "jpy")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.Currency = strings.ToLower(cfg.Currency)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.PublishableKey == "" {
		return fmt.Errorf("STRIPE_PUBLISHABLE_KEY is required")
	}
	if c.Mode != ModeTest && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode %q: must be %s or %s", c.Mode, ModeTest, ModeLive)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s", c.PollInterval)
	}
	return nil
}

// Live reports whether the service runs against live keys.
func (c *Config) Live() bool {
	return c.Mode == ModeLive
}

// DriverSettings returns the raw configuration handed to the terminal
// driver: the API credentials plus the YAML driver_config block.
func (c *Config) DriverSettings() (json.RawMessage, error) {
	raw := map[string]interface{}{
		"secret_key":    c.SecretKey,
		"api_url":       c.APIURL,
		"poll_interval": c.PollInterval.String(),
		"live":          c.Live(),
	}
	for k, val := range c.DriverConfig {
		raw[k] = val
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode driver config: %w", err)
	}
	return data, nil
}
