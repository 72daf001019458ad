// Package transport carries envelopes between the client and the game
// server: a websocket-backed Session with heartbeat and reconnect, and a
// Scripted stand-in for offline play.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/tracker"
)

var (
	ErrNotConnected       = errors.New("transport is not connected")
	ErrAlreadyConnected   = errors.New("transport is already connecting or connected")
	ErrSessionClosed      = errors.New("transport session is closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrTransport          = errors.New("transport failure")
)

// State is the coarse connection state shown to users.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateListener observes every state transition.
type StateListener func(from, to State)

// Handler receives inbound events and snapshots. It is called without any
// transport lock held, so it may call back into the transport.
type Handler interface {
	HandleEvent(seq protocol.Seq, event protocol.Event)
	HandleSnapshot(seq protocol.Seq, snapshot protocol.Snapshot)
}

// Transport is the capability the network client is built on. Session and
// Scripted both implement it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	// SendIntent stamps and sends an intent. It never blocks on the network
	// round trip; delivery shows up later as an ack.
	SendIntent(intent protocol.Intent) (protocol.Seq, error)
	RequestSnapshot() error

	State() State
	// Err is non-nil once the transport failed terminally.
	Err() error
	OnStateChange(fn StateListener) (unsubscribe func())

	Sequence() tracker.View
	DiscardPending() int
	ResetSequence()
}

// Config is the connection surface shared by every transport.
type Config struct {
	URL                  string        `mapstructure:"url" yaml:"url"`
	ReconnectInterval    time.Duration `mapstructure:"reconnectInterval" yaml:"reconnectInterval"`
	MaxReconnectAttempts int           `mapstructure:"maxReconnectAttempts" yaml:"maxReconnectAttempts"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeatInterval" yaml:"heartbeatInterval"`
	HandshakeTimeout     time.Duration `mapstructure:"handshakeTimeout" yaml:"handshakeTimeout"`
	WriteTimeout         time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	MaxMessageSize       int64         `mapstructure:"maxMessageSize" yaml:"maxMessageSize"`
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:8080/ws",
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxMessageSize:       1024 * 1024, // 1MB
	}
}

// withDefaults fills zero durations; a zero MaxReconnectAttempts is kept and
// means "never reconnect".
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

type listenerEntry struct {
	id uint64
	fn StateListener
}

// listeners is an ordered registry of state listeners.
type listeners struct {
	mu      sync.Mutex
	nextID  uint64
	entries []listenerEntry
}

func (l *listeners) add(fn StateListener) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, e := range l.entries {
				if e.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners) notify(from, to State) {
	if from == to {
		return
	}
	l.mu.Lock()
	snapshot := make([]listenerEntry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()
	for _, e := range snapshot {
		e.fn(from, to)
	}
}

type nopHandler struct{}

func (nopHandler) HandleEvent(protocol.Seq, protocol.Event)       {}
func (nopHandler) HandleSnapshot(protocol.Seq, protocol.Snapshot) {}
