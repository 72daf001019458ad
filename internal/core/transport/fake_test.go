package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSocket struct {
	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	writeErr error
}

func (s *fakeSocket) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.writes))
	for _, w := range s.writes {
		env, err := protocol.Decode(w)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer records each dial; tests drive the handler callbacks directly.
type fakeDialer struct {
	mu    sync.Mutex
	dials []SocketHandler
	urls  []string
}

func (d *fakeDialer) Dial(_ context.Context, url string, h SocketHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, h)
	d.urls = append(d.urls, url)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) last(t *testing.T) SocketHandler {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.dials)
	return d.dials[len(d.dials)-1]
}

type recordingHandler struct {
	mu        sync.Mutex
	events    []protocol.Event
	seqs      []protocol.Seq
	snapshots []protocol.Snapshot
}

func (h *recordingHandler) HandleEvent(seq protocol.Seq, event protocol.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seqs = append(h.seqs, seq)
	h.events = append(h.events, event)
}

func (h *recordingHandler) HandleSnapshot(_ protocol.Seq, snapshot protocol.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, snapshot)
}

func (h *recordingHandler) received() []protocol.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Event(nil), h.events...)
}

type sessionHarness struct {
	session *Session
	dialer  *fakeDialer
	clock   *clock.Manual
	handler *recordingHandler
	logs    *observer.ObservedLogs
	states  []State
}

func newHarness(t *testing.T, mutate func(*Config)) *sessionHarness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "ws://table.test/ws"
	cfg.ReconnectInterval = time.Second
	cfg.MaxReconnectAttempts = 3
	cfg.HeartbeatInterval = 10 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	core, logs := observer.New(zap.DebugLevel)
	h := &sessionHarness{
		dialer:  &fakeDialer{},
		clock:   clock.NewManual(epoch),
		handler: &recordingHandler{},
		logs:    logs,
	}
	h.session = NewSession(cfg, h.handler, Deps{
		Dialer:    h.dialer,
		Scheduler: h.clock,
		Logger:    log.NewWithCore(core),
	})
	h.session.OnStateChange(func(_, to State) { h.states = append(h.states, to) })
	return h
}

// open connects and completes the handshake, returning the live socket.
func (h *sessionHarness) open(t *testing.T) *fakeSocket {
	t.Helper()
	require.NoError(t, h.session.Connect(context.Background()))
	sock := &fakeSocket{}
	h.dialer.last(t).OnOpen(sock)
	require.Equal(t, Connected, h.session.State())
	return sock
}

func encode(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	return data
}
