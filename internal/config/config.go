package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/zeusync/tablesync/internal/client"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	Client client.Config `mapstructure:",squash" yaml:",inline"`

	LogLevel string `mapstructure:"logLevel" yaml:"logLevel"`

	// TickRate is the number of world updates per second.
	TickRate int `mapstructure:"tickRate" yaml:"tickRate"`

	// ReplayPath, when set, receives a YAML replay of the session on exit.
	ReplayPath string `mapstructure:"replayPath" yaml:"replayPath"`
}

// DefaultConfig returns default application configuration
func DefaultConfig() Config {
	return Config{
		Client:   client.DefaultConfig(),
		LogLevel: "info",
		TickRate: 30,
	}
}

// TickInterval is the wall time between two world updates.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func (c Config) Validate() error {
	if !c.Client.MockMode && c.Client.Transport.URL == "" {
		return fmt.Errorf("%w: url is required unless mockMode is set", ErrInvalidConfig)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("%w: tickRate must be positive, got %d", ErrInvalidConfig, c.TickRate)
	}
	if c.Client.LogCapacity <= 0 {
		return fmt.Errorf("%w: logCapacity must be positive, got %d", ErrInvalidConfig, c.Client.LogCapacity)
	}
	for name, d := range map[string]time.Duration{
		"reconnectInterval": c.Client.Transport.ReconnectInterval,
		"heartbeatInterval": c.Client.Transport.HeartbeatInterval,
		"handshakeTimeout":  c.Client.Transport.HandshakeTimeout,
		"writeTimeout":      c.Client.Transport.WriteTimeout,
	} {
		if d < time.Millisecond {
			return fmt.Errorf("%w: %s must be at least 1ms, got %s", ErrInvalidConfig, name, d)
		}
	}
	if c.Client.Transport.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: maxReconnectAttempts must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("%w: unknown logLevel %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// Load reads configuration from path (or TABLESYNC_CONFIG, or tablesync.yaml
// in the working directory and ~/.config/tablesync) and the environment.
// Env var overrides use prefix TABLESYNC_, e.g. TABLESYNC_MOCKMODE=true.
func Load(path string) (Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("url", d.Client.Transport.URL)
	v.SetDefault("reconnectInterval", d.Client.Transport.ReconnectInterval)
	v.SetDefault("maxReconnectAttempts", d.Client.Transport.MaxReconnectAttempts)
	v.SetDefault("heartbeatInterval", d.Client.Transport.HeartbeatInterval)
	v.SetDefault("handshakeTimeout", d.Client.Transport.HandshakeTimeout)
	v.SetDefault("writeTimeout", d.Client.Transport.WriteTimeout)
	v.SetDefault("maxMessageSize", d.Client.Transport.MaxMessageSize)
	v.SetDefault("mockMode", d.Client.MockMode)
	v.SetDefault("logCapacity", d.Client.LogCapacity)
	v.SetDefault("logLevel", d.LogLevel)
	v.SetDefault("tickRate", d.TickRate)
	v.SetDefault("replayPath", d.ReplayPath)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv("TABLESYNC_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "tablesync"))
		v.SetConfigName("tablesync")
	}

	v.SetEnvPrefix("TABLESYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		millisecondsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&c, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// millisecondsHook reads bare numbers (and numeric strings from the
// environment) as milliseconds. Strings with a unit go through
// time.ParseDuration.
func millisecondsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		v := reflect.ValueOf(data)
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(v.Int()) * time.Millisecond, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(v.Uint()) * time.Millisecond, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(v.Float() * float64(time.Millisecond)), nil
		case reflect.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64); err == nil {
				return time.Duration(n) * time.Millisecond, nil
			}
		}
		return data, nil
	}
}
