package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeusync/tablesync/internal/core/world"
)

var ErrInvalidState = errors.New("invalid room state")

// State is the snapshot blob the server sends for a room.
type State struct {
	RoomID             string        `json:"roomId" yaml:"roomId"`
	Players            []PlayerState `json:"players" yaml:"players"`
	CurrentPlayerIndex int           `json:"currentPlayerIndex" yaml:"currentPlayerIndex"`
	Tiles              []TileState   `json:"tiles" yaml:"tiles"`
	GamePhase          GamePhase     `json:"gamePhase" yaml:"gamePhase"`
}

type PlayerState struct {
	ID    string   `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Tiles []string `json:"tiles" yaml:"tiles"`
	Score int      `json:"score" yaml:"score"`
}

type TileState struct {
	ID      string `json:"id" yaml:"id"`
	Suit    string `json:"suit" yaml:"suit"`
	Value   int    `json:"value" yaml:"value"`
	OwnerID string `json:"ownerId,omitempty" yaml:"ownerId,omitempty"`
}

// DecodeState parses and checks a snapshot blob without touching any world.
func DecodeState(raw []byte) (State, error) {
	var s State
	if len(raw) == 0 {
		return s, fmt.Errorf("%w: empty state", ErrInvalidState)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s State) Validate() error {
	if s.RoomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrInvalidState)
	}
	if len(s.Players) == 0 && s.CurrentPlayerIndex != 0 {
		return fmt.Errorf("%w: current player index %d with no players", ErrInvalidState, s.CurrentPlayerIndex)
	}
	if len(s.Players) > 0 && (s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players)) {
		return fmt.Errorf("%w: current player index %d out of range", ErrInvalidState, s.CurrentPlayerIndex)
	}
	seen := make(map[string]struct{}, len(s.Players))
	for _, p := range s.Players {
		if p.ID == "" {
			return fmt.Errorf("%w: player without id", ErrInvalidState)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate player %q", ErrInvalidState, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	switch s.GamePhase {
	case PhaseWaiting, PhasePlaying, PhaseFinished, "":
	default:
		return fmt.Errorf("%w: unknown game phase %q", ErrInvalidState, s.GamePhase)
	}
	return nil
}

// DefaultState is the four-seat table a room starts with before the first
// snapshot arrives.
func DefaultState() State {
	return State{
		RoomID: "mock_room_001",
		Players: []PlayerState{
			{ID: "player_1", Name: "Player 1", Tiles: []string{"tile_1", "tile_2"}},
			{ID: "player_2", Name: "Player 2", Tiles: []string{"tile_3", "tile_4"}},
			{ID: "player_3", Name: "Player 3", Tiles: []string{"tile_5", "tile_6"}},
			{ID: "player_4", Name: "Player 4", Tiles: []string{"tile_7", "tile_8"}},
		},
		GamePhase: PhasePlaying,
	}
}

// populate creates the entities for s in a cleared world: game state first,
// then players in seat order, loose tiles, the table and the turn.
func populate(w *world.World, s State, now func() time.Time) {
	phase := s.GamePhase
	if phase == "" {
		phase = PhaseWaiting
	}

	gs := w.CreateEntity()
	w.AddComponent(gs, &GameState{RoomID: s.RoomID, CurrentPlayerIndex: s.CurrentPlayerIndex, Phase: phase})

	for _, p := range s.Players {
		id := w.CreateEntity()
		w.AddComponent(id, &Player{
			PlayerID: p.ID,
			Name:     p.Name,
			Tiles:    append([]string(nil), p.Tiles...),
			Score:    p.Score,
		})
	}

	for _, t := range s.Tiles {
		id := w.CreateEntity()
		w.AddComponent(id, &Tile{TileID: t.ID, Suit: t.Suit, Value: t.Value, OwnerID: t.OwnerID})
	}

	table := w.CreateEntity()
	w.AddComponent(table, &Table{})

	turn := &Turn{LastActionTime: now()}
	if len(s.Players) > 0 {
		turn.CurrentPlayerID = s.Players[s.CurrentPlayerIndex].ID
	}
	w.AddComponent(w.CreateEntity(), turn)
}
