package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config carries engine and dev-server settings. Timeout arithmetic for
// reconnection and token-expiry warnings is deliberately configuration, not
// hard-coded constants.
type Config struct {
	ServerIP   string `mapstructure:"server_ip"`
	ServerPort int    `mapstructure:"server_port"`

	// SignalTimeout bounds reconnection attempts after transport loss.
	SignalTimeout    time.Duration `mapstructure:"signal_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	StatsInterval    time.Duration `mapstructure:"stats_interval"`
	EventBuffer      int           `mapstructure:"event_buffer"`

	// Token expiry warning fires warnBefore = clamp(ttl/6, floor, cap)
	// before expiry.
	TokenWarnFloor time.Duration `mapstructure:"token_warn_floor"`
	TokenWarnCap   time.Duration `mapstructure:"token_warn_cap"`

	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	// Dev server settings.
	Mode   string `mapstructure:"mode"`
	Secret string `mapstructure:"secret"`

	ChannelProfile int `mapstructure:"channel_profile"`

	VideoProfile   int `mapstructure:"video_profile"`
	VideoFrameRate int `mapstructure:"video_frame_rate"`
	VideoBitrate   int `mapstructure:"video_bitrate"`
	AudioCodec     int `mapstructure:"audio_codec"`
	AudioBitrate   int `mapstructure:"audio_bitrate"`
	AudioChannels  int `mapstructure:"audio_channels"`
}

const minSignalTimeout = 20 * time.Second

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.clamp()
	return &cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.clamp()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_ip", "127.0.0.1")
	v.SetDefault("server_port", 8080)
	v.SetDefault("signal_timeout", "90s")
	v.SetDefault("reconnect_backoff", "2s")
	v.SetDefault("stats_interval", "2s")
	v.SetDefault("event_buffer", 256)
	v.SetDefault("token_warn_floor", "10s")
	v.SetDefault("token_warn_cap", "60s")
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", "debug")
	v.SetDefault("secret", "rtcengine-dev")
	v.SetDefault("channel_profile", 0)
	v.SetDefault("video_profile", 30)
	v.SetDefault("video_frame_rate", 15)
	v.SetDefault("video_bitrate", 400)
	v.SetDefault("audio_codec", 4)
	v.SetDefault("audio_bitrate", 64)
	v.SetDefault("audio_channels", 2)
}

func (c *Config) clamp() {
	if c.SignalTimeout < minSignalTimeout {
		c.SignalTimeout = minSignalTimeout
	}
	if c.TokenWarnFloor <= 0 {
		c.TokenWarnFloor = 10 * time.Second
	}
	if c.TokenWarnCap < c.TokenWarnFloor {
		c.TokenWarnCap = 60 * time.Second
	}
}

// SignalAddr is the websocket signaling endpoint.
func (c *Config) SignalAddr() string {
	return fmt.Sprintf("ws://%s:%d/api/ws/signal", c.ServerIP, c.ServerPort)
}

// SetupLogger applies the configured severity filter and optional log file.
func (c *Config) SetupLogger() error {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", c.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		log.Logger = log.Output(f)
	}
	return nil
}
