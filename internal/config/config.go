package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	ControlAddr string `mapstructure:"control_addr"`
	MediaAddr   string `mapstructure:"media_addr"`
	AdminAddr   string `mapstructure:"admin_addr"`
	MediaPort   int    `mapstructure:"media_port"`

	ReadLimit    int           `mapstructure:"read_limit"`
	SendQueue    int           `mapstructure:"send_queue"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MediaWorkers int           `mapstructure:"media_workers"`
	MediaBuffer  int           `mapstructure:"media_buffer"`

	DefaultRoom    string  `mapstructure:"default_room"`
	ExclusiveCalls bool    `mapstructure:"exclusive_calls"`
	SlowPeerPolicy string  `mapstructure:"slow_peer_policy"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateBurst      int     `mapstructure:"rate_burst"`

	Secret string `mapstructure:"secret"`
	// AdminToken guards /api. Empty disables the admin API.
	AdminToken string `mapstructure:"admin_token"`
	// TrustedProxies may set X-Forwarded-For on admin and WS requests.
	// Empty means the peer address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("control_addr", ":5555")
	v.SetDefault("media_addr", ":5556")
	v.SetDefault("admin_addr", ":8080")
	v.SetDefault("media_port", 0)
	v.SetDefault("read_limit", 16<<20)
	v.SetDefault("send_queue", 256)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("media_workers", 64)
	v.SetDefault("media_buffer", 65535)
	v.SetDefault("default_room", "General")
	v.SetDefault("exclusive_calls", true)
	v.SetDefault("slow_peer_policy", "drop")
	v.SetDefault("rate_limit", 200)
	v.SetDefault("rate_burst", 400)
	v.SetDefault("secret", "change-me")
	v.SetDefault("admin_token", "")
	v.SetDefault("trusted_proxies", []string{})
}

// Load reads config/config.<CONFIG_ENV>.yaml when present and applies
// RELAY_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("control", cfg.ControlAddr).
		Str("media", cfg.MediaAddr).
		Str("admin", cfg.AdminAddr).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ControlAddr == "" {
		return fmt.Errorf("config: control_addr is required")
	}
	if c.MediaAddr == "" {
		return fmt.Errorf("config: media_addr is required")
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("config: read_limit must be > 0, got %d", c.ReadLimit)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("config: send_queue must be > 0, got %d", c.SendQueue)
	}
	if c.MediaWorkers <= 0 {
		return fmt.Errorf("config: media_workers must be > 0, got %d", c.MediaWorkers)
	}
	if c.MediaBuffer <= 0 || c.MediaBuffer > 65535 {
		return fmt.Errorf("config: media_buffer must be in 1..65535, got %d", c.MediaBuffer)
	}
	switch c.SlowPeerPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("config: slow_peer_policy must be drop or kick, got %q", c.SlowPeerPolicy)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate_limit must be >= 0")
	}
	return nil
}

// AdvertisedMediaPort is the UDP port announced to clients in the welcome message.
func (c *Config) AdvertisedMediaPort() int {
	if c.MediaPort > 0 {
		return c.MediaPort
	}
	_, port, err := net.SplitHostPort(c.MediaAddr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
