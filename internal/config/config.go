package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-client/internal/conversation"
	"github.com/vovakirdan/wirechat-client/internal/core"
)

// Config holds client configuration values.
type Config struct {
	Scheme    string `mapstructure:"scheme" yaml:"scheme"`
	Host      string `mapstructure:"host" yaml:"host"`
	WSPath    string `mapstructure:"ws_path" yaml:"ws_path"`
	APIScheme string `mapstructure:"api_scheme" yaml:"api_scheme"`

	Username string `mapstructure:"username" yaml:"username"`
	RoomID   int64  `mapstructure:"room_id" yaml:"room_id"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Reconnect            bool          `mapstructure:"reconnect" yaml:"reconnect"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBackoff     string        `mapstructure:"reconnect_backoff" yaml:"reconnect_backoff"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`

	TypingQuietInterval time.Duration `mapstructure:"typing_quiet_interval" yaml:"typing_quiet_interval"`
	HistoryPageSize     int           `mapstructure:"history_page_size" yaml:"history_page_size"`
	ScopePolicy         string        `mapstructure:"scope_policy" yaml:"scope_policy"`
	MaxRoomName         int           `mapstructure:"max_room_name" yaml:"max_room_name"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	ReadLimit    int64         `mapstructure:"read_limit" yaml:"read_limit"`
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`

	DevServerAddr string `mapstructure:"devserver_addr" yaml:"devserver_addr"`
}

// Backoff strategies accepted by ReconnectBackoff.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Scheme:    "ws",
		Host:      "localhost:8080",
		WSPath:    "/ws",
		APIScheme: "http",

		LogLevel: "info",

		Reconnect:        true,
		ReconnectDelay:   5 * time.Second,
		ReconnectBackoff: BackoffConstant,

		ReconnectMaxDelay:   time.Minute,
		TypingQuietInterval: conversation.DefaultTypingQuiet,
		HistoryPageSize:     50,
		ScopePolicy:         conversation.PolicyBuffer.String(),
		MaxRoomName:         30,

		DialTimeout: 10 * time.Second,
		SendBuffer:  32,
		ReadLimit:   1 << 20,

		DevServerAddr: ":8080",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Reconnect is a bool and is never overwritten here; callers set it
// explicitly when a flag was changed.
func (c *Config) UpdateFrom(other Config) {
	setString(&c.Scheme, other.Scheme)
	setString(&c.Host, other.Host)
	setString(&c.WSPath, other.WSPath)
	setString(&c.APIScheme, other.APIScheme)
	setString(&c.Username, other.Username)
	setString(&c.LogLevel, other.LogLevel)
	setString(&c.ReconnectBackoff, other.ReconnectBackoff)
	setString(&c.ScopePolicy, other.ScopePolicy)
	setString(&c.DevServerAddr, other.DevServerAddr)

	if other.RoomID != 0 {
		c.RoomID = other.RoomID
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.MaxReconnectAttempts != 0 {
		c.MaxReconnectAttempts = other.MaxReconnectAttempts
	}
	if other.ReconnectMaxDelay != 0 {
		c.ReconnectMaxDelay = other.ReconnectMaxDelay
	}
	if other.TypingQuietInterval != 0 {
		c.TypingQuietInterval = other.TypingQuietInterval
	}
	if other.HistoryPageSize != 0 {
		c.HistoryPageSize = other.HistoryPageSize
	}
	if other.MaxRoomName != 0 {
		c.MaxRoomName = other.MaxRoomName
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.SendBuffer != 0 {
		c.SendBuffer = other.SendBuffer
	}
	if other.ReadLimit != 0 {
		c.ReadLimit = other.ReadLimit
	}
	if other.PingInterval != 0 {
		c.PingInterval = other.PingInterval
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Scheme {
	case "ws", "wss":
	default:
		errs = append(errs, fmt.Errorf("scheme must be ws or wss, got %q", c.Scheme))
	}
	switch c.APIScheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Errorf("api_scheme must be http or https, got %q", c.APIScheme))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		errs = append(errs, fmt.Errorf("ws_path must start with /, got %q", c.WSPath))
	}
	if c.RoomID < 0 {
		errs = append(errs, core.ErrInvalidRoom)
	}
	switch c.ReconnectBackoff {
	case BackoffConstant, BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("reconnect_backoff must be %s or %s, got %q", BackoffConstant, BackoffExponential, c.ReconnectBackoff))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect_delay must be positive"))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max_reconnect_attempts must not be negative"))
	}
	if c.TypingQuietInterval <= 0 {
		errs = append(errs, errors.New("typing_quiet_interval must be positive"))
	}
	if c.HistoryPageSize <= 0 {
		errs = append(errs, errors.New("history_page_size must be positive"))
	}
	if _, err := conversation.ParseScopePolicy(c.ScopePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.MaxRoomName <= 0 {
		errs = append(errs, errors.New("max_room_name must be positive"))
	}
	return errors.Join(errs...)
}

// Policy returns the parsed scope policy. Call Validate first.
func (c Config) Policy() conversation.ScopePolicy {
	p, _ := conversation.ParseScopePolicy(c.ScopePolicy)
	return p
}

// Room returns the initial room to enter.
func (c Config) Room() core.RoomID {
	return core.RoomID(c.RoomID)
}

// APIBase returns the REST base URL derived from the host.
func (c Config) APIBase() string {
	return c.APIScheme + "://" + c.Host
}
