package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"`
	LogLevel  string `mapstructure:"log_level"`

	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	SignalTimeout     time.Duration `mapstructure:"signal_timeout"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	Rejoin            bool          `mapstructure:"rejoin"`

	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SpeechThreshold   float64       `mapstructure:"speech_threshold"`
	SpeakerHold       time.Duration `mapstructure:"speaker_hold"`
	IncludeLocalAudio bool          `mapstructure:"include_local_audio"`

	PrefsPath   string `mapstructure:"prefs_path"`
	HTTPAddr    string `mapstructure:"http_addr"`
	DisplayName string `mapstructure:"display_name"`
	UserID      string `mapstructure:"user_id"`

	// RecordDir, when set, records every consumed remote track into it.
	RecordDir string `mapstructure:"record_dir"`
}

// flagKeys are the settings a command line flag may override.
var flagKeys = map[string]string{
	"server":     "server_url",
	"token":      "token",
	"http-addr":  "http_addr",
	"name":       "display_name",
	"log-level":  "log_level",
	"record-dir": "record_dir",
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VOICE_* environment
// variables, then any of flags that were set.
func Load(flags *pflag.FlagSet) (*Config, error) {
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

	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "ws://localhost:3000/ws")
	v.SetDefault("token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("signal_timeout", "15s")
	v.SetDefault("keepalive_interval", "25s")
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rejoin", true)
	v.SetDefault("poll_interval", "200ms")
	v.SetDefault("speech_threshold", 0.08)
	v.SetDefault("speaker_hold", "1.5s")
	v.SetDefault("include_local_audio", false)
	v.SetDefault("prefs_path", "~/.voice/preferences.toml")
	v.SetDefault("http_addr", "127.0.0.1:8787")
	v.SetDefault("display_name", "")
	v.SetDefault("user_id", "")
	v.SetDefault("record_dir", "")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Debug().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Debug().
		Str("module", "config").
		Str("server_url", cfg.ServerURL).
		Str("http_addr", cfg.HTTPAddr).
		Str("prefs_path", cfg.PrefsPath).
		Msg("config")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("config: server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		return fmt.Errorf("config: server_url must be a ws:// or wss:// url, got %q", c.ServerURL)
	}
	if c.SpeechThreshold <= 0 || c.SpeechThreshold >= 1 {
		return fmt.Errorf("config: speech_threshold must be in (0,1), got %v", c.SpeechThreshold)
	}
	return nil
}
