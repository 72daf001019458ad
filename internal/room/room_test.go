package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tablesync/internal/client"
	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/world"
)

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return start }

func TestServerEventSystem_TurnChangedResolvesSeatAtApplyTime(t *testing.T) {
	w := world.New(nil)
	w.AddSystem(NewServerEventSystem(fixedClock, log.NewNop()))

	var seats []world.EntityID
	for _, id := range []string{"east", "south", "west", "north"} {
		e := w.CreateEntity()
		w.AddComponent(e, &Player{PlayerID: id})
		seats = append(seats, e)
	}
	turnEntity := w.CreateEntity()
	w.AddComponent(turnEntity, &Turn{CurrentPlayerID: "east"})

	w.AddServerEvent(protocol.TurnChanged{PlayerIndex: 1})
	w.Update(0.016)

	c, ok := w.GetComponent(turnEntity, TypeTurn)
	require.True(t, ok)
	turn := c.(*Turn)
	p, _ := w.GetComponent(seats[1], TypePlayer)
	assert.Equal(t, p.(*Player).PlayerID, turn.CurrentPlayerID)
	assert.Equal(t, 1, turn.TurnNumber)
	assert.Equal(t, start, turn.LastActionTime)

	// a seat removed after enqueue shifts the lookup
	w.AddServerEvent(protocol.TurnChanged{PlayerIndex: 1})
	w.RemoveEntity(seats[1])
	w.Update(0.016)
	assert.Equal(t, "west", turn.CurrentPlayerID)
	assert.Equal(t, 2, turn.TurnNumber)
}

func TestServerEventSystem_InvalidIndexIsIgnored(t *testing.T) {
	w := world.New(nil)
	w.AddSystem(NewServerEventSystem(fixedClock, log.NewNop()))
	e := w.CreateEntity()
	w.AddComponent(e, &Player{PlayerID: "solo"})

	w.AddServerEvent(protocol.TurnChanged{PlayerIndex: 3})
	w.AddServerEvent(protocol.TurnChanged{PlayerIndex: -1})
	assert.NotPanics(t, func() { w.Update(0) })

	assert.Empty(t, w.EntitiesWith(TypeTurn))
}

func TestServerEventSystem_TilePlayedCreatesTable(t *testing.T) {
	w := world.New(nil)
	w.AddSystem(NewServerEventSystem(fixedClock, log.NewNop()))

	w.AddServerEvent(protocol.TilePlayed{PlayerID: "p1", TileID: "5m"})
	w.AddServerEvent(protocol.TilePlayed{PlayerID: "p2", TileID: "6m"})
	w.Update(0)

	ids := w.EntitiesWith(TypeTable)
	require.Len(t, ids, 1)
	c, _ := w.GetComponent(ids[0], TypeTable)
	assert.Equal(t, []TablePlay{
		{TileID: "5m", PlayerID: "p1", At: start},
		{TileID: "6m", PlayerID: "p2", At: start},
	}, c.(*Table).Tiles)
}

func TestService_InitialView(t *testing.T) {
	s := NewService(nil, WithClock(fixedClock))

	v := s.View()
	assert.Equal(t, "mock_room_001", v.RoomID)
	assert.Equal(t, PhasePlaying, v.Phase)
	require.Len(t, v.Players, 4)
	assert.True(t, v.Players[0].IsCurrent)
	assert.Equal(t, 2, v.Players[0].HandSize)

	current, ok := s.CurrentTurnPlayer()
	require.True(t, ok)
	assert.Equal(t, "player_1", current)
	// game state, four players, table, turn
	assert.Equal(t, 7, s.EntityCount())
}

func TestService_EventsApplyOnTick(t *testing.T) {
	s := NewService(nil, WithClock(fixedClock))

	s.HandleEvent(protocol.TilePlayed{PlayerID: "player_1", TileID: "tile_1"})
	s.HandleEvent(protocol.TurnChanged{PlayerIndex: 1})
	assert.Empty(t, s.TableTiles())

	s.Update(0.5)

	tiles := s.TableTiles()
	require.Len(t, tiles, 1)
	assert.Equal(t, "tile_1", tiles[0].TileID)
	assert.InDelta(t, 0.5, tiles[0].Age, 1e-9)

	v := s.View()
	assert.Equal(t, "player_2", v.CurrentPlayerID)
	assert.Equal(t, 1, v.TurnNumber)
	assert.Equal(t, 1, v.Players[0].HandSize)
	assert.Equal(t, []string{"tile_2"}, s.Hand("player_1"))
	assert.Nil(t, s.Hand("nobody"))
	assert.True(t, v.Players[1].IsCurrent)
	require.Len(t, v.Table, 1)

	v.Table[0].TileID = "mutated"
	assert.Equal(t, "tile_1", s.TableTiles()[0].TileID)
}

func TestService_GameLifecycleEvents(t *testing.T) {
	s := NewService(nil, WithInitialState(State{RoomID: "r1", GamePhase: PhaseWaiting}))
	assert.Equal(t, PhaseWaiting, s.View().Phase)

	s.HandleEvent(protocol.GameStarted{RoomID: "r1"})
	s.Update(0)
	assert.Equal(t, PhasePlaying, s.View().Phase)

	s.HandleEvent(protocol.GameEnded{RoomID: "r1", Winner: "player_3"})
	s.Update(0)
	assert.Equal(t, PhaseFinished, s.View().Phase)
	assert.Equal(t, "player_3", s.View().Winner)

	_, ok := s.CurrentTurnPlayer()
	assert.False(t, ok)
}

func snapshotOf(t *testing.T, seq protocol.Seq, state any) protocol.Snapshot {
	t.Helper()
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	return protocol.Snapshot{Seq: seq, State: raw}
}

func TestService_ApplySnapshotRebuildsWorld(t *testing.T) {
	s := NewService(nil, WithClock(fixedClock))
	s.HandleEvent(protocol.TilePlayed{PlayerID: "player_1", TileID: "tile_1"})
	s.Update(0)
	s.HandleEvent(protocol.TurnChanged{PlayerIndex: 3})

	err := s.Apply(snapshotOf(t, 40, State{
		RoomID: "room_9",
		Players: []PlayerState{
			{ID: "a", Name: "A", Tiles: []string{"1p"}},
			{ID: "b", Name: "B"},
		},
		CurrentPlayerIndex: 1,
		Tiles:              []TileState{{ID: "1p", Suit: "dot", Value: 1, OwnerID: "a"}},
		GamePhase:          PhasePlaying,
	}))
	require.NoError(t, err)

	v := s.View()
	assert.Equal(t, "room_9", v.RoomID)
	assert.Equal(t, "b", v.CurrentPlayerID)
	assert.Empty(t, v.Table)
	assert.Len(t, v.Players, 2)

	// the queued TURN_CHANGED was dropped with the old world
	s.Update(0)
	assert.Equal(t, "b", s.View().CurrentPlayerID)
	assert.Zero(t, s.View().TurnNumber)
	// game state, two players, one tile, table, turn
	assert.Equal(t, 6, s.EntityCount())
}

func TestService_InvalidSnapshotLeavesWorldUntouched(t *testing.T) {
	s := NewService(nil, WithClock(fixedClock))
	s.HandleEvent(protocol.TilePlayed{PlayerID: "player_1", TileID: "tile_2"})
	s.Update(0)
	before := s.View()

	cases := []protocol.Snapshot{
		{Seq: 1},
		{Seq: 2, State: []byte(`{"roomId":`)},
		snapshotOf(t, 3, State{Players: []PlayerState{{ID: "x"}}}),
		snapshotOf(t, 4, State{RoomID: "r", Players: []PlayerState{{ID: "x"}}, CurrentPlayerIndex: 2}),
		snapshotOf(t, 5, State{RoomID: "r", Players: []PlayerState{{ID: "x"}, {ID: "x"}}}),
		snapshotOf(t, 6, State{RoomID: "r", GamePhase: "paused"}),
	}
	for _, snap := range cases {
		assert.ErrorIs(t, s.Apply(snap), ErrInvalidState, "seq %d", snap.Seq)
	}

	assert.Equal(t, before, s.View())
	assert.Len(t, s.TableTiles(), 1)
}

type memoryRecorder struct {
	events    []protocol.Event
	snapshots []protocol.Snapshot
}

func (m *memoryRecorder) RecordEvent(e protocol.Event)       { m.events = append(m.events, e) }
func (m *memoryRecorder) RecordSnapshot(s protocol.Snapshot) { m.snapshots = append(m.snapshots, s) }

func TestService_AttachedToMockClient(t *testing.T) {
	clk := clock.NewManual(start)
	cfg := client.DefaultConfig()
	cfg.MockMode = true
	c := client.New(cfg, client.WithScheduler(clk))
	rec := &memoryRecorder{}
	s := NewService(nil, WithClock(clk.Now), WithRecorder(rec))

	_, err := s.PlayTile("tile_1")
	assert.ErrorIs(t, err, ErrNotAttached)

	detach := s.Attach(c)
	require.NoError(t, c.Connect(context.Background()))

	seq, err := s.PlayTile("tile_1")
	require.NoError(t, err)
	assert.Equal(t, protocol.Seq(1), seq)

	clk.Advance(300 * time.Millisecond)
	assert.Empty(t, s.TableTiles())

	s.Update(0.016)
	tiles := s.TableTiles()
	require.Len(t, tiles, 1)
	assert.Equal(t, TablePlay{TileID: "tile_1", PlayerID: "player_1", At: start.Add(300 * time.Millisecond), Age: 0.016}, tiles[0])
	current, _ := s.CurrentTurnPlayer()
	assert.Equal(t, "player_2", current)
	assert.Len(t, rec.events, 2)

	detach()
	detach()
	_, err = s.PlayTile("tile_3")
	assert.ErrorIs(t, err, ErrNotAttached)
}

func TestService_Close(t *testing.T) {
	s := NewService(nil)
	s.Close()
	assert.Zero(t, s.EntityCount())
	assert.NotPanics(t, func() { s.Update(0) })
}

func TestState_Validate(t *testing.T) {
	assert.NoError(t, State{RoomID: "r"}.Validate())
	assert.NoError(t, State{RoomID: "r", GamePhase: PhaseWaiting}.Validate())
	assert.NoError(t, DefaultState().Validate())

	assert.ErrorIs(t, State{RoomID: "r", GamePhase: "paused"}.Validate(), ErrInvalidState)
	assert.ErrorIs(t, State{RoomID: "r", CurrentPlayerIndex: 1}.Validate(), ErrInvalidState)
	assert.ErrorIs(t, State{RoomID: "r", Players: []PlayerState{{ID: "a"}}, CurrentPlayerIndex: -1}.Validate(), ErrInvalidState)
	assert.ErrorIs(t, State{RoomID: "r", Players: []PlayerState{{}}}.Validate(), ErrInvalidState)
}
