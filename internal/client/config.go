package client

import (
	"github.com/zeusync/tablesync/internal/core/transport"
)

// Config holds the network client settings.
type Config struct {
	Transport transport.Config `mapstructure:",squash" yaml:",inline"`

	// MockMode swaps the websocket session for the scripted transport.
	MockMode bool `mapstructure:"mockMode" yaml:"mockMode"`

	// LogCapacity bounds the diagnostic network log.
	LogCapacity int `mapstructure:"logCapacity" yaml:"logCapacity"`
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		Transport:   transport.DefaultConfig(),
		MockMode:    false,
		LogCapacity: 100,
	}
}
