package room

import (
	"time"

	"github.com/zeusync/tablesync/internal/core/world"
)

const (
	TypePlayer    world.ComponentType = "Player"
	TypeTile      world.ComponentType = "Tile"
	TypeTable     world.ComponentType = "Table"
	TypeTurn      world.ComponentType = "Turn"
	TypeGameState world.ComponentType = "GameState"
)

type GamePhase string

const (
	PhaseWaiting  GamePhase = "waiting"
	PhasePlaying  GamePhase = "playing"
	PhaseFinished GamePhase = "finished"
)

type Player struct {
	PlayerID string
	Name     string
	Tiles    []string
	Score    int
}

func (*Player) ComponentType() world.ComponentType { return TypePlayer }

type Tile struct {
	TileID  string
	Suit    string
	Value   int
	OwnerID string
}

func (*Tile) ComponentType() world.ComponentType { return TypeTile }

// TablePlay is one tile laid on the table. Age is seconds since it was
// applied, advanced by the animation phase.
type TablePlay struct {
	TileID   string
	PlayerID string
	At       time.Time
	Age      float64
}

type Table struct {
	Tiles []TablePlay
}

func (*Table) ComponentType() world.ComponentType { return TypeTable }

type Turn struct {
	CurrentPlayerID string
	TurnNumber      int
	LastActionTime  time.Time
}

func (*Turn) ComponentType() world.ComponentType { return TypeTurn }

type GameState struct {
	RoomID             string
	CurrentPlayerIndex int
	Phase              GamePhase
	Winner             string
}

func (*GameState) ComponentType() world.ComponentType { return TypeGameState }

// single returns the lowest-id entity owning ct and its component.
func single[T world.Component](w *world.World, ct world.ComponentType) (world.EntityID, T, bool) {
	var zero T
	ids := w.EntitiesWith(ct)
	if len(ids) == 0 {
		return 0, zero, false
	}
	c, ok := w.GetComponent(ids[0], ct)
	if !ok {
		return 0, zero, false
	}
	typed, ok := c.(T)
	return ids[0], typed, ok
}

// players returns player components in entity order, which is seat order.
func players(w *world.World) []*Player {
	ids := w.EntitiesWith(TypePlayer)
	out := make([]*Player, 0, len(ids))
	for _, id := range ids {
		if c, ok := w.GetComponent(id, TypePlayer); ok {
			out = append(out, c.(*Player))
		}
	}
	return out
}
