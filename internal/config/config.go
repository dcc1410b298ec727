package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "FLEETCALL"

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// AllowedOrigins restricts browser WebSocket upgrades; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	JoinRateLimit    int           `mapstructure:"join_rate_limit"`
	JoinRateInterval time.Duration `mapstructure:"join_rate_interval"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`

	// Backpressure is kick, drop or strike.
	Backpressure        string `mapstructure:"backpressure"`
	BackpressureStrikes int    `mapstructure:"backpressure_strikes"`

	Client  ClientConfig  `mapstructure:"client"`
	Media   MediaConfig   `mapstructure:"media"`
	Capture CaptureConfig `mapstructure:"capture"`
}

// ClientConfig is read by cmd/peer only.
type ClientConfig struct {
	HubURL      string   `mapstructure:"hub_url"`
	Room        string   `mapstructure:"room"`
	Token       string   `mapstructure:"token"`
	UserID      string   `mapstructure:"user_id"`
	DisplayName string   `mapstructure:"display_name"`
	ICEServers  []string `mapstructure:"ice_servers"`
	Display     bool     `mapstructure:"display"`
	CaptureDir  string   `mapstructure:"capture_dir"`
}

type MediaConfig struct {
	Video   core.VideoConstraints   `mapstructure:"video"`
	Audio   core.AudioConstraints   `mapstructure:"audio"`
	Display core.DisplayConstraints `mapstructure:"display"`
}

type CaptureConfig struct {
	MaxWidth    int           `mapstructure:"max_width"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
	PLIInterval time.Duration `mapstructure:"pli_interval"`
}

// New returns a viper instance with every default registered and
// FLEETCALL_* environment overrides enabled. Flags may be bound on it
// before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_interval", "10s")
	v.SetDefault("token_ttl", "12h")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("backpressure_strikes", 3)

	v.SetDefault("client.hub_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.room", "")
	v.SetDefault("client.token", "")
	v.SetDefault("client.user_id", "")
	v.SetDefault("client.display_name", "")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("client.display", false)
	v.SetDefault("client.capture_dir", "")

	v.SetDefault("media.video.width.min", 1280)
	v.SetDefault("media.video.width.ideal", 1920)
	v.SetDefault("media.video.width.max", 2560)
	v.SetDefault("media.video.height.min", 720)
	v.SetDefault("media.video.height.ideal", 1080)
	v.SetDefault("media.video.height.max", 1440)
	v.SetDefault("media.video.frame_rate.min", 15)
	v.SetDefault("media.video.frame_rate.ideal", 30)
	v.SetDefault("media.video.frame_rate.max", 30)
	v.SetDefault("media.audio.echo_cancellation", true)
	v.SetDefault("media.audio.noise_suppression", true)
	v.SetDefault("media.audio.auto_gain_control", true)
	v.SetDefault("media.display.frame_rate.ideal", 15)
	v.SetDefault("media.display.frame_rate.max", 30)

	v.SetDefault("capture.max_width", 1280)
	v.SetDefault("capture.jpeg_quality", 75)
	v.SetDefault("capture.pli_interval", "2s")
	return v
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// A missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(New())
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("invalid capture.jpeg_quality %d", c.Capture.JPEGQuality)
	}
	if c.Capture.MaxWidth <= 0 {
		return errors.New("capture.max_width must be positive")
	}
	switch c.Backpressure {
	case "kick", "drop", "strike":
	default:
		return fmt.Errorf("invalid backpressure %q", c.Backpressure)
	}
	if c.JoinRateLimit <= 0 {
		return errors.New("join_rate_limit must be positive")
	}
	return nil
}
