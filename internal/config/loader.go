package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WIRECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars and
// flags, and returns the resolved path.
// Precedence: defaults < config file < env vars < changed flags.
// Flags are matched to keys by name with dashes turned into underscores.
func Load(logger *zerolog.Logger, explicitPath string, flags *pflag.FlagSet) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WIRECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if !isKnownKey(key) {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
			}
		})
		if bindErr != nil {
			return cfg, "", bindErr
		}
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Debug().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env vars and flags resolve even when
// the file omits them.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("scheme", cfg.Scheme)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("ws_path", cfg.WSPath)
	v.SetDefault("api_scheme", cfg.APIScheme)
	v.SetDefault("username", cfg.Username)
	v.SetDefault("room_id", cfg.RoomID)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("reconnect", cfg.Reconnect)
	v.SetDefault("reconnect_delay", cfg.ReconnectDelay)
	v.SetDefault("max_reconnect_attempts", cfg.MaxReconnectAttempts)
	v.SetDefault("reconnect_backoff", cfg.ReconnectBackoff)
	v.SetDefault("reconnect_max_delay", cfg.ReconnectMaxDelay)
	v.SetDefault("typing_quiet_interval", cfg.TypingQuietInterval)
	v.SetDefault("history_page_size", cfg.HistoryPageSize)
	v.SetDefault("scope_policy", cfg.ScopePolicy)
	v.SetDefault("max_room_name", cfg.MaxRoomName)
	v.SetDefault("dial_timeout", cfg.DialTimeout)
	v.SetDefault("send_buffer", cfg.SendBuffer)
	v.SetDefault("read_limit", cfg.ReadLimit)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("devserver_addr", cfg.DevServerAddr)
}

func isKnownKey(key string) bool {
	switch key {
	case "scheme", "host", "ws_path", "api_scheme", "username", "room_id", "log_level",
		"reconnect", "reconnect_delay", "max_reconnect_attempts", "reconnect_backoff",
		"reconnect_max_delay", "typing_quiet_interval", "history_page_size", "scope_policy",
		"max_room_name", "dial_timeout", "send_buffer", "read_limit", "ping_interval",
		"devserver_addr":
		return true
	}
	return false
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
