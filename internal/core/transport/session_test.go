package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zeusync/tablesync/internal/core/protocol"
)

func TestSession_ConnectTransitions(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, Disconnected, h.session.State())

	h.open(t)

	assert.Equal(t, []State{Connecting, Connected}, h.states)
	assert.Equal(t, []string{"ws://table.test/ws"}, h.dialer.urls)
	assert.ErrorIs(t, h.session.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSession_SendIntentStampsSeqAndAck(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)

	seq1, err := h.session.SendIntent(protocol.PlayTile{TileID: "5m"})
	require.NoError(t, err)
	seq2, err := h.session.SendIntent(protocol.FetchRoomList{})
	require.NoError(t, err)

	assert.Equal(t, protocol.Seq(1), seq1)
	assert.Equal(t, protocol.Seq(2), seq2)
	assert.Equal(t, 2, h.session.Sequence().PendingCount())

	sent := sock.envelopes(t)
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.KindIntent, sent[0].Kind)
	assert.Equal(t, protocol.Seq(1), sent[0].Seq)
	assert.Equal(t, protocol.PlayTile{TileID: "5m"}, sent[0].Intent)
	assert.Equal(t, protocol.Seq(2), sent[1].Seq)
	assert.Equal(t, uint64(2), h.session.Stats().FramesOut)
}

func TestSession_InvalidIntentIsRejectedBeforeSending(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)

	seq, err := h.session.SendIntent(protocol.PlayTile{})
	assert.ErrorIs(t, err, protocol.ErrInvalidIntent)
	assert.Zero(t, seq)
	assert.Empty(t, sock.envelopes(t))
	assert.Equal(t, protocol.Seq(0), h.session.Sequence().Current())
}

func TestSession_SendWhileDisconnectedNeverConsumesSeq(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 3; i++ {
		seq, err := h.session.SendIntent(protocol.PlayTile{TileID: "1p"})
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Zero(t, seq)
	}
	assert.Equal(t, protocol.Seq(0), h.session.Sequence().Current())
	assert.Zero(t, h.session.Sequence().PendingCount())
	assert.Equal(t, 3, h.logs.FilterMessage("Cannot send intent: not connected").Len())

	sock := h.open(t)
	seq, err := h.session.SendIntent(protocol.PlayTile{TileID: "1p"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Seq(1), seq)
	assert.Len(t, sock.envelopes(t), 1)

	require.NoError(t, h.session.Disconnect())
	seq, err = h.session.SendIntent(protocol.PlayTile{TileID: "2p"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, seq)
	assert.Equal(t, protocol.Seq(1), h.session.Sequence().Current())
}

func TestSession_MalformedFramesThenHeartbeatRepliesOnce(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)
	conn := h.dialer.last(t)

	assert.NotPanics(t, func() {
		conn.OnMessage([]byte("{not json"))
		conn.OnMessage([]byte(`{"type":"bogus","seq":1,"ack":0}`))
		conn.OnMessage(encode(t, protocol.NewHeartbeatEnvelope(7, 0)))
	})

	sent := sock.envelopes(t)
	require.Len(t, sent, 1)
	assert.True(t, protocol.IsAck(sent[0]))
	assert.Equal(t, Connected, h.session.State())

	stats := h.session.Stats()
	assert.Equal(t, uint64(3), stats.FramesIn)
	assert.Equal(t, uint64(2), stats.DecodeErrors)
	assert.Equal(t, 2, h.logs.FilterMessage("Dropping malformed frame").Len())
}

func TestSession_InboundAckEvictsPendingAndDispatches(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)
	conn := h.dialer.last(t)

	for i := 0; i < 3; i++ {
		_, err := h.session.SendIntent(protocol.PlayTile{TileID: "3s"})
		require.NoError(t, err)
	}

	conn.OnMessage(encode(t, protocol.NewEventEnvelope(protocol.TilePlayed{PlayerID: "p1", TileID: "3s"}, 11, 2)))
	conn.OnMessage(encode(t, protocol.NewSnapshotEnvelope(protocol.Snapshot{Seq: 12}, 12, 1)))

	view := h.session.Sequence()
	assert.Equal(t, protocol.Seq(2), view.LastAck())
	pending := view.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, protocol.Seq(3), pending[0].Seq)

	require.Len(t, h.handler.received(), 1)
	assert.Equal(t, protocol.TilePlayed{PlayerID: "p1", TileID: "3s"}, h.handler.received()[0])
	assert.Equal(t, []protocol.Seq{11}, h.handler.seqs)
	require.Len(t, h.handler.snapshots, 1)
	assert.Equal(t, protocol.Seq(12), h.handler.snapshots[0].Seq)
}

func TestSession_HeartbeatRunsOnInterval(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)

	h.clock.Advance(9 * time.Second)
	assert.Empty(t, sock.envelopes(t))

	h.clock.Advance(time.Second)
	h.clock.Advance(10 * time.Second)
	sent := sock.envelopes(t)
	require.Len(t, sent, 2)
	assert.True(t, protocol.IsHeartbeat(sent[0]))
	assert.True(t, protocol.IsHeartbeat(sent[1]))
}

func TestSession_RequestSnapshotSendsHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.session.RequestSnapshot(), ErrNotConnected)

	sock := h.open(t)
	require.NoError(t, h.session.RequestSnapshot())

	sent := sock.envelopes(t)
	require.Len(t, sent, 1)
	assert.True(t, protocol.IsHeartbeat(sent[0]))
}

func TestSession_UnexpectedCloseReconnectsAndKeepsPending(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)
	_, err := h.session.SendIntent(protocol.PlayTile{TileID: "9m"})
	require.NoError(t, err)

	h.dialer.last(t).OnClose(errors.New("connection reset"))
	assert.Equal(t, Reconnecting, h.session.State())
	assert.Equal(t, 1, h.session.Attempts())
	assert.Equal(t, 1, h.dialer.count())

	h.clock.Advance(time.Second)
	assert.Equal(t, Connecting, h.session.State())
	require.Equal(t, 2, h.dialer.count())

	sock := &fakeSocket{}
	h.dialer.last(t).OnOpen(sock)
	assert.Equal(t, Connected, h.session.State())
	assert.Zero(t, h.session.Attempts())
	assert.Equal(t, 1, h.session.Sequence().PendingCount())

	seq, err := h.session.SendIntent(protocol.PlayTile{TileID: "1m"})
	require.NoError(t, err)
	assert.Equal(t, protocol.Seq(2), seq)

	assert.Equal(t, []State{Connecting, Connected, Reconnecting, Connecting, Connected}, h.states)
	assert.Equal(t, uint64(1), h.session.Stats().Reconnects)
}

func TestSession_ReconnectExhaustedClosesSession(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)

	h.dialer.last(t).OnClose(errors.New("server went away"))
	for i := 0; i < 3; i++ {
		require.Equal(t, Reconnecting, h.session.State())
		h.clock.Advance(time.Second)
		h.dialer.last(t).OnClose(errors.New("dial refused"))
	}

	assert.Equal(t, Closed, h.session.State())
	assert.ErrorIs(t, h.session.Err(), ErrReconnectExhausted)
	assert.Equal(t, 4, h.dialer.count())
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(time.Hour)
	assert.Equal(t, 4, h.dialer.count())
	assert.Equal(t, 1, h.logs.FilterMessage("Reconnect attempts exhausted").FilterField(zap.Int("attempts", 3)).Len())
	assert.ErrorIs(t, h.session.Connect(context.Background()), ErrSessionClosed)
}

func TestSession_ZeroReconnectAttemptsFailsImmediately(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxReconnectAttempts = 0 })
	require.NoError(t, h.session.Connect(context.Background()))

	h.dialer.last(t).OnClose(errors.New("refused"))

	assert.Equal(t, Closed, h.session.State())
	assert.ErrorIs(t, h.session.Err(), ErrReconnectExhausted)
	assert.Zero(t, h.clock.Pending())
}

func TestSession_DisconnectCancelsTimersAndIgnoresLateCallbacks(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)
	conn := h.dialer.last(t)
	require.Equal(t, 1, h.clock.Pending())

	require.NoError(t, h.session.Disconnect())
	assert.Equal(t, Closed, h.session.State())
	assert.True(t, sock.isClosed())
	assert.Zero(t, h.clock.Pending())
	assert.NoError(t, h.session.Err())

	conn.OnMessage(encode(t, protocol.NewEventEnvelope(protocol.TurnChanged{PlayerIndex: 2}, 1, 0)))
	conn.OnClose(errors.New("late close"))
	assert.Empty(t, h.handler.received())
	assert.Equal(t, Closed, h.session.State())

	require.NoError(t, h.session.Disconnect())
	assert.Equal(t, []State{Connecting, Connected, Closed}, h.states)
}

func TestSession_DisconnectWhileReconnectingStopsTimer(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)
	h.dialer.last(t).OnClose(nil)
	require.Equal(t, Reconnecting, h.session.State())

	require.NoError(t, h.session.Disconnect())
	h.clock.Advance(time.Minute)

	assert.Equal(t, 1, h.dialer.count())
	assert.Equal(t, Closed, h.session.State())
}

func TestSession_StaleOpenIsClosed(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.session.Connect(context.Background()))
	stale := h.dialer.last(t)
	require.NoError(t, h.session.Disconnect())

	sock := &fakeSocket{}
	stale.OnOpen(sock)

	assert.True(t, sock.isClosed())
	assert.Equal(t, Closed, h.session.State())
}

func TestSession_ListenerUnsubscribe(t *testing.T) {
	h := newHarness(t, nil)
	var seen []State
	unsubscribe := h.session.OnStateChange(func(_, to State) { seen = append(seen, to) })

	h.open(t)
	unsubscribe()
	unsubscribe()
	require.NoError(t, h.session.Disconnect())

	assert.Equal(t, []State{Connecting, Connected}, seen)
}

func TestSession_ResetAndDiscard(t *testing.T) {
	h := newHarness(t, nil)
	h.open(t)
	for i := 0; i < 2; i++ {
		_, err := h.session.SendIntent(protocol.FetchRoomList{})
		require.NoError(t, err)
	}

	assert.Equal(t, 2, h.session.DiscardPending())
	assert.Equal(t, protocol.Seq(2), h.session.Sequence().Current())

	h.session.ResetSequence()
	assert.Equal(t, protocol.Seq(0), h.session.Sequence().Current())
}

func TestSession_WriteFailureIsTransportError(t *testing.T) {
	h := newHarness(t, nil)
	sock := h.open(t)
	sock.writeErr = errors.New("broken pipe")

	_, err := h.session.SendIntent(protocol.PlayTile{TileID: "7z"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "reconnecting", Reconnecting.String())
}
