// Package client is the network facade used by game features: it sends
// intents, fans inbound events out to subscribers, applies snapshots through
// a pluggable strategy and keeps a bounded diagnostic log of traffic.
package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/tracker"
	"github.com/zeusync/tablesync/internal/core/transport"
)

// Wildcard subscribes to every event type.
const Wildcard protocol.EventType = "*"

// EventHandler receives one inbound event.
type EventHandler func(event protocol.Event)

// SnapshotApplier replaces local state with an authoritative snapshot.
type SnapshotApplier interface {
	Apply(snapshot protocol.Snapshot) error
}

// SnapshotApplierFunc adapts a function to SnapshotApplier.
type SnapshotApplierFunc func(snapshot protocol.Snapshot) error

func (f SnapshotApplierFunc) Apply(snapshot protocol.Snapshot) error { return f(snapshot) }

// TransportFactory builds the transport a client talks through. The client
// passes itself in as the inbound handler.
type TransportFactory func(h transport.Handler) transport.Transport

// Option configures a Client.
type Option func(*options)

type options struct {
	logger    log.Log
	scheduler clock.Scheduler
	dialer    transport.Dialer
	factory   TransportFactory
}

func WithLogger(logger log.Log) Option {
	return func(o *options) { o.logger = logger }
}

func WithScheduler(s clock.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithDialer replaces the websocket dialer of the default transport.
func WithDialer(d transport.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTransport overrides transport selection entirely.
func WithTransport(f TransportFactory) Option {
	return func(o *options) { o.factory = f }
}

// DefaultTransportFactory picks the scripted transport in mock mode and a
// websocket session otherwise.
func DefaultTransportFactory(cfg Config, deps transport.Deps) TransportFactory {
	return func(h transport.Handler) transport.Transport {
		if cfg.MockMode {
			return transport.NewScripted(nil, h, deps)
		}
		return transport.NewSession(cfg.Transport, h, deps)
	}
}

type subscription struct {
	id     uint64
	fn     EventHandler
	active atomic.Bool
}

// Client is the network facade. It is safe for concurrent use.
type Client struct {
	id        string
	config    Config
	logger    log.Log
	scheduler clock.Scheduler
	transport transport.Transport
	netLog    *netLog

	subsMu sync.RWMutex
	nextID uint64
	subs   map[protocol.EventType][]*subscription

	strategyMu sync.RWMutex
	strategy   SnapshotApplier
}

// New creates a client and its transport. Nothing is dialed until Connect.
func New(config Config, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNop()
	}
	if o.scheduler == nil {
		o.scheduler = clock.Wall{}
	}

	c := &Client{
		id:        uuid.NewString(),
		config:    config,
		scheduler: o.scheduler,
		netLog:    newNetLog(config.LogCapacity),
		subs:      make(map[protocol.EventType][]*subscription),
	}
	c.logger = o.logger.With(log.String("component", "client"), log.String("client_id", c.id))

	factory := o.factory
	if factory == nil {
		factory = DefaultTransportFactory(config, transport.Deps{
			Dialer:    o.dialer,
			Scheduler: o.scheduler,
			Logger:    o.logger,
		})
	}
	c.transport = factory(inbound{c})

	c.logger.Info("Client created", log.Bool("mock_mode", config.MockMode))
	return c
}

// ID is a random identifier used to correlate log lines.
func (c *Client) ID() string { return c.id }

func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

func (c *Client) Disconnect() error {
	return c.transport.Disconnect()
}

// SendIntent stamps and sends intent. See transport.Transport for the
// not-connected contract.
func (c *Client) SendIntent(intent protocol.Intent) (protocol.Seq, error) {
	seq, err := c.transport.SendIntent(intent)
	if err != nil {
		return seq, err
	}
	c.netLog.add(c.scheduler.Now(), Outbound, protocol.KindIntent, string(intent.IntentType()), seq, intent)
	c.logger.Debug("Sent intent",
		log.String("type", string(intent.IntentType())),
		log.Uint64("seq", uint64(seq)))
	return seq, nil
}

func (c *Client) RequestSnapshot() error {
	return c.transport.RequestSnapshot()
}

// Subscribe registers handler for eventType (or Wildcard). Handlers for the
// exact type run before wildcard handlers, each group in subscription order.
// The returned func removes the subscription and may be called more than
// once, including from inside a handler.
func (c *Client) Subscribe(eventType protocol.EventType, handler EventHandler) func() {
	if handler == nil {
		c.logger.Warn("Ignoring nil event handler", log.String("type", string(eventType)))
		return func() {}
	}

	c.subsMu.Lock()
	c.nextID++
	sub := &subscription{id: c.nextID, fn: handler}
	sub.active.Store(true)
	c.subs[eventType] = append(c.subs[eventType], sub)
	c.subsMu.Unlock()

	c.logger.Debug("Event handler registered", log.String("type", string(eventType)))

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		list := c.subs[eventType]
		for i, s := range list {
			if s.id == sub.id {
				c.subs[eventType] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.subs[eventType]) == 0 {
			delete(c.subs, eventType)
		}
	}
}

// SetSnapshotStrategy replaces the snapshot strategy.
func (c *Client) SetSnapshotStrategy(strategy SnapshotApplier) {
	c.strategyMu.Lock()
	c.strategy = strategy
	c.strategyMu.Unlock()
}

// NetworkLog returns up to n of the newest diagnostic records, oldest first.
func (c *Client) NetworkLog(n int) []Record {
	return c.netLog.last(n)
}

func (c *Client) ConnectionState() transport.State {
	return c.transport.State()
}

func (c *Client) IsConnected() bool {
	return c.transport.State() == transport.Connected
}

// Err reports a terminal transport failure such as exhausted reconnects.
func (c *Client) Err() error {
	return c.transport.Err()
}

func (c *Client) OnStateChange(fn transport.StateListener) func() {
	return c.transport.OnStateChange(fn)
}

// Sequence exposes the seq/ack bookkeeping of the active transport.
func (c *Client) Sequence() tracker.View {
	return c.transport.Sequence()
}

// ResetSequence zeroes seq/ack for a new server session.
func (c *Client) ResetSequence() {
	c.transport.ResetSequence()
	c.logger.Info("Sequence reset")
}

func (c *Client) dispatch(seq protocol.Seq, event protocol.Event) {
	eventType := event.EventType()
	c.netLog.add(c.scheduler.Now(), Inbound, protocol.KindEvent, string(eventType), seq, event)

	c.subsMu.RLock()
	handlers := make([]*subscription, 0, len(c.subs[eventType])+len(c.subs[Wildcard]))
	handlers = append(handlers, c.subs[eventType]...)
	if eventType != Wildcard {
		handlers = append(handlers, c.subs[Wildcard]...)
	}
	c.subsMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("No handlers for event", log.String("type", string(eventType)))
		return
	}
	for _, sub := range handlers {
		if !sub.active.Load() {
			continue
		}
		sub.fn(event)
	}
}

func (c *Client) applySnapshot(seq protocol.Seq, snapshot protocol.Snapshot) {
	c.netLog.add(c.scheduler.Now(), Inbound, protocol.KindSnapshot, string(protocol.KindSnapshot), seq, snapshot)

	c.strategyMu.RLock()
	strategy := c.strategy
	c.strategyMu.RUnlock()

	if strategy == nil {
		c.logger.Error("Discarding snapshot",
			log.Uint64("seq", uint64(snapshot.Seq)),
			log.Error(ErrSnapshotStrategyMissing))
		return
	}

	if err := strategy.Apply(snapshot); err != nil {
		c.logger.Error("Failed to apply snapshot",
			log.Uint64("seq", uint64(snapshot.Seq)),
			log.Error(err))
		return
	}
	// Intents sent before the snapshot are superseded by it.
	discarded := c.transport.DiscardPending()
	c.logger.Info("Applied snapshot",
		log.Uint64("seq", uint64(snapshot.Seq)),
		log.Int("discarded_intents", discarded))
}

// inbound keeps the transport.Handler methods off the Client API.
type inbound struct{ c *Client }

func (i inbound) HandleEvent(seq protocol.Seq, event protocol.Event) { i.c.dispatch(seq, event) }

func (i inbound) HandleSnapshot(seq protocol.Seq, snapshot protocol.Snapshot) {
	i.c.applySnapshot(seq, snapshot)
}
