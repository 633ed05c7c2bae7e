package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"db_path" yaml:"db_path"`

	// HistoryLimit caps how many messages are replayed to a joining client
	// and returned by the history endpoint. 0 means unlimited.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`

	// SendQueue is the per-connection outbound event queue size. When a
	// client's queue is full, further broadcasts to it are dropped.
	SendQueue int `mapstructure:"ws_send_queue" yaml:"ws_send_queue"`

	// MessageRateLimit is the number of inbound messages a connection may
	// send per minute. 0 disables the limit.
	MessageRateLimit int `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "chatrelay.db",
		HistoryLimit:      200,
		SendQueue:         32,
		MessageRateLimit:  0,
		JWTSecret:         "change-me",
		JWTIssuer:         "chatrelay",
		JWTAudience:       "chatrelay",
	}
}
