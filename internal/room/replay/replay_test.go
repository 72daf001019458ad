package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/protocol"
)

var t0 = time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)

func recordedLog(t *testing.T) (*Log, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	l := NewLog("room_001", clk.Now, nil)

	l.RecordSnapshot(protocol.Snapshot{Seq: 3, State: json.RawMessage(`{"roomId":"room_001"}`)})
	clk.Advance(200 * time.Millisecond)
	l.RecordEvent(protocol.TilePlayed{PlayerID: "player_1", TileID: "tile_1"})
	clk.Advance(100 * time.Millisecond)
	l.RecordEvent(protocol.TurnChanged{PlayerIndex: 1})
	clk.Advance(700 * time.Millisecond)
	l.RecordEvent(protocol.GameEnded{RoomID: "room_001", Winner: "player_2"})
	return l, clk
}

func TestLog_RecordsOffsetsAndInitialState(t *testing.T) {
	l, _ := recordedLog(t)
	d := l.Data()

	require.NoError(t, d.Validate())
	assert.Equal(t, "room_001", d.RoomID)
	assert.True(t, t0.Equal(d.CreatedAt))
	assert.NotEmpty(t, d.BuildHash)
	require.NotNil(t, d.InitialState)
	assert.Equal(t, protocol.Seq(3), d.InitialState.Seq)

	require.Len(t, d.Events, 3)
	assert.Equal(t, 200*time.Millisecond, d.Events[0].Offset)
	assert.Equal(t, 300*time.Millisecond, d.Events[1].Offset)
	assert.Equal(t, time.Second, d.Events[2].Offset)
	assert.Equal(t, "TURN_CHANGED", d.Events[1].Type)

	recent := l.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "GAME_ENDED", recent[1].Type)
	assert.Len(t, l.Recent(10), 3)

	l.Clear()
	assert.Zero(t, l.Len())
	assert.Nil(t, l.Data().InitialState)
}

func TestData_YAMLRoundTrip(t *testing.T) {
	l, _ := recordedLog(t)
	original := l.Data()

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, original))
	assert.Contains(t, buf.String(), "schemaVersion: 1.0.0")
	assert.Contains(t, buf.String(), "roomId: room_001")

	imported, err := Import(&buf)
	require.NoError(t, err)
	require.NoError(t, imported.Validate())

	assert.Equal(t, original.RoomID, imported.RoomID)
	assert.Equal(t, original.Events, imported.Events)
	assert.Equal(t, original.InitialState, imported.InitialState)
	assert.True(t, original.CreatedAt.Equal(imported.CreatedAt))

	event, err := imported.Events[0].Event()
	require.NoError(t, err)
	assert.Equal(t, protocol.TilePlayed{PlayerID: "player_1", TileID: "tile_1"}, event)
}

func TestData_ValidateRejectsBadInput(t *testing.T) {
	_, err := Import(strings.NewReader("events: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidReplay)

	d := Data{}
	assert.ErrorIs(t, d.Validate(), ErrInvalidReplay)

	l, _ := recordedLog(t)
	d = l.Data()
	d.Events[0].Offset, d.Events[1].Offset = d.Events[1].Offset, d.Events[0].Offset
	assert.ErrorIs(t, d.Validate(), ErrInvalidReplay)
}

type sinkRecorder struct {
	events    []protocol.Event
	times     []time.Time
	snapshots []protocol.Snapshot
	clk       *clock.Manual
}

func (s *sinkRecorder) sink() Sink {
	return Sink{
		Event: func(e protocol.Event) {
			s.events = append(s.events, e)
			s.times = append(s.times, s.clk.Now())
		},
		Snapshot: func(snap protocol.Snapshot) error {
			s.snapshots = append(s.snapshots, snap)
			return nil
		},
	}
}

func TestRunner_PlaysAtRecordedOffsets(t *testing.T) {
	l, _ := recordedLog(t)
	clk := clock.NewManual(t0)
	rec := &sinkRecorder{clk: clk}
	r := NewRunner(clk, rec.sink(), DefaultRunnerConfig(), nil)

	assert.ErrorIs(t, r.Play(), ErrNothingLoaded)
	require.NoError(t, r.Load(l.Data()))
	require.NoError(t, r.Play())

	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, protocol.Seq(3), rec.snapshots[0].Seq)

	clk.Advance(250 * time.Millisecond)
	assert.Len(t, rec.events, 1)
	assert.InDelta(t, 1.0/3.0, r.Progress(), 1e-9)

	clk.Advance(time.Second)
	require.Len(t, rec.events, 3)
	assert.Equal(t, []time.Time{
		t0.Add(200 * time.Millisecond),
		t0.Add(300 * time.Millisecond),
		t0.Add(time.Second),
	}, rec.times)
	assert.Equal(t, Finished, r.State())
	assert.Equal(t, 1.0, r.Progress())
}

func TestRunner_SpeedMultiplier(t *testing.T) {
	l, _ := recordedLog(t)
	clk := clock.NewManual(t0)
	rec := &sinkRecorder{clk: clk}
	r := NewRunner(clk, rec.sink(), RunnerConfig{Speed: 2}, nil)
	require.NoError(t, r.Load(l.Data()))
	require.NoError(t, r.Play())

	clk.Advance(500 * time.Millisecond)

	assert.Len(t, rec.events, 3)
	assert.Equal(t, t0.Add(100*time.Millisecond), rec.times[0])
	assert.Equal(t, Finished, r.State())
}

func TestRunner_PauseResume(t *testing.T) {
	l, _ := recordedLog(t)
	clk := clock.NewManual(t0)
	rec := &sinkRecorder{clk: clk}
	r := NewRunner(clk, rec.sink(), DefaultRunnerConfig(), nil)
	require.NoError(t, r.Load(l.Data()))
	require.NoError(t, r.Play())

	clk.Advance(150 * time.Millisecond)
	r.Pause()
	assert.Equal(t, Paused, r.State())

	clk.Advance(time.Hour)
	assert.Empty(t, rec.events)

	require.NoError(t, r.Play())
	assert.Len(t, rec.snapshots, 1)
	clk.Advance(49 * time.Millisecond)
	assert.Empty(t, rec.events)
	clk.Advance(time.Millisecond)
	assert.Len(t, rec.events, 1)
}

func TestRunner_StopRewinds(t *testing.T) {
	l, _ := recordedLog(t)
	clk := clock.NewManual(t0)
	rec := &sinkRecorder{clk: clk}
	r := NewRunner(clk, rec.sink(), DefaultRunnerConfig(), nil)
	require.NoError(t, r.Load(l.Data()))
	require.NoError(t, r.Play())
	clk.Advance(300 * time.Millisecond)
	require.Len(t, rec.events, 2)

	r.Stop()
	assert.Equal(t, Stopped, r.State())
	assert.Zero(t, r.Progress())
	assert.Zero(t, clk.Pending())

	require.NoError(t, r.Play())
	clk.Advance(200 * time.Millisecond)
	assert.Len(t, rec.events, 3)
	assert.Len(t, rec.snapshots, 2)
}

func TestRunner_Loop(t *testing.T) {
	l, _ := recordedLog(t)
	clk := clock.NewManual(t0)
	rec := &sinkRecorder{clk: clk}
	r := NewRunner(clk, rec.sink(), RunnerConfig{Speed: 1, Loop: true}, nil)
	require.NoError(t, r.Load(l.Data()))
	require.NoError(t, r.Play())

	clk.Advance(999 * time.Millisecond)
	assert.Len(t, rec.events, 2)
	assert.Len(t, rec.snapshots, 1)

	// the last event rewinds and restores the initial state
	clk.Advance(time.Millisecond)
	assert.Len(t, rec.events, 3)
	require.Len(t, rec.snapshots, 2)
	assert.Equal(t, rec.snapshots[0], rec.snapshots[1])
	assert.Zero(t, r.Progress())

	clk.Advance(200 * time.Millisecond)
	assert.Len(t, rec.events, 4)
	assert.Len(t, rec.snapshots, 2)
	assert.Equal(t, Playing, r.State())
	r.Stop()
}

func TestRunner_LoadRejectsUndecodableEntry(t *testing.T) {
	r := NewRunner(clock.NewManual(t0), Sink{}, DefaultRunnerConfig(), nil)
	d := Data{Events: []Entry{{Type: "TILE_PLAYED", Envelope: "{broken"}}}

	err := r.Load(d)
	assert.Error(t, err)
	assert.True(t, protocol.IsDecodeError(err) || errors.Is(err, ErrInvalidReplay))
	_, ok := r.Metadata()
	assert.False(t, ok)
}
