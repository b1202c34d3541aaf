package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	Secret          string        `mapstructure:"secret"`
	JoinLimit       int           `mapstructure:"join_limit"`
	JoinWindow      time.Duration `mapstructure:"join_window"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	LogLevel        string        `mapstructure:"log_level"`
	Client          ClientConfig  `mapstructure:"client"`
}

type ClientConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	Name            string        `mapstructure:"name"`
	SubGroup        string        `mapstructure:"sub_group"`
	SessionID       string        `mapstructure:"session_id"`
	SignalInterval  time.Duration `mapstructure:"signal_interval"`
	StatusInterval  time.Duration `mapstructure:"status_interval"`
	MaxPollFailures int           `mapstructure:"max_poll_failures"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	AutoSkip        time.Duration `mapstructure:"auto_skip"`
	GetReady        time.Duration `mapstructure:"get_ready"`
	AudioSource     string        `mapstructure:"audio_source"`
	RecordDir       string        `mapstructure:"record_dir"`
	ICEServers      []string      `mapstructure:"ice_servers"`
	EchoCancel      bool          `mapstructure:"echo_cancellation"`
	NoiseSuppress   bool          `mapstructure:"noise_suppression"`
	AutoGain        bool          `mapstructure:"auto_gain_control"`
}

// NewViper prepares a viper instance with defaults, the config file for
// CONFIG_ENV (or file when given) and VOICEQUEUE_* environment overrides.
// Callers may bind flags before passing it to FromViper.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICEQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "voicequeue-dev-secret")
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_window", "1m")
	v.SetDefault("janitor_interval", "60s")
	v.SetDefault("log_level", "info")

	v.SetDefault("client.server_url", "http://localhost:8080/api")
	v.SetDefault("client.name", "")
	v.SetDefault("client.sub_group", "General")
	v.SetDefault("client.session_id", "")
	v.SetDefault("client.signal_interval", "1s")
	v.SetDefault("client.status_interval", "750ms")
	v.SetDefault("client.max_poll_failures", 3)
	v.SetDefault("client.request_timeout", "10s")
	v.SetDefault("client.auto_skip", "30s")
	v.SetDefault("client.get_ready", "60s")
	v.SetDefault("client.audio_source", "silence")
	v.SetDefault("client.record_dir", "")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.echo_cancellation", true)
	v.SetDefault("client.noise_suppression", true)
	v.SetDefault("client.auto_gain_control", true)
	return v
}

func FromViper(v *viper.Viper) (*Config, error) {
	fileName := v.ConfigFileUsed()
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("server_url", cfg.Client.ServerURL).Msg("config ready")
	return &cfg, nil
}

func Load() (*Config, error) {
	return FromViper(NewViper(""))
}
