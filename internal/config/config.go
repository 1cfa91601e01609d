package config

import "time"

// Config is the root configuration for a simstatus instance.
type Config struct {
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	History   HistoryConfig   `yaml:"history"`
	Log       LogConfig       `yaml:"log"`
}

// EndpointConfig identifies the status stream to connect to.
type EndpointConfig struct {
	// URL is the WebSocket endpoint (e.g., ws://host:8000/ws).
	// Required; there is no built-in default.
	URL string `yaml:"url"`
}

// HeartbeatConfig holds liveness probe settings.
type HeartbeatConfig struct {
	// Interval between ping probes.
	Interval time.Duration `yaml:"interval"`
	// Timeout is the maximum time without a pong before the
	// connection is declared dead.
	Timeout time.Duration `yaml:"timeout"`
}

// ReconnectConfig holds exponential backoff settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// HistoryConfig holds the optional status-transition recorder settings.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}
