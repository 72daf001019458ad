package room

import (
	"time"

	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
	"github.com/zeusync/tablesync/internal/core/world"
)

var (
	_ world.EventHandler = (*ServerEventSystem)(nil)
	_ world.Phased       = (*ServerEventSystem)(nil)
	_ world.Ordered      = (*GameStateSystem)(nil)
	_ world.Ordered      = (*PlayerSystem)(nil)
	_ world.Ordered      = (*TileSystem)(nil)
	_ world.Phased       = (*AnimationSystem)(nil)
	_ world.Phased       = (*UIProjectionSystem)(nil)
)

// ServerEventSystem applies authoritative events to the world.
type ServerEventSystem struct {
	now    func() time.Time
	logger log.Log
}

func NewServerEventSystem(now func() time.Time, logger log.Log) *ServerEventSystem {
	return &ServerEventSystem{now: now, logger: logger}
}

func (*ServerEventSystem) Phase() world.Phase { return world.PhaseServerEvents }

func (*ServerEventSystem) Update(*world.World, float64) {}

func (s *ServerEventSystem) HandleEvent(w *world.World, event protocol.Event) bool {
	switch e := event.(type) {
	case protocol.TilePlayed:
		s.tilePlayed(w, e)
	case protocol.TurnChanged:
		s.turnChanged(w, e)
	case protocol.GameStarted:
		s.setPhase(w, PhasePlaying, "")
	case protocol.GameEnded:
		s.setPhase(w, PhaseFinished, e.Winner)
	default:
		return false
	}
	return true
}

func (s *ServerEventSystem) tilePlayed(w *world.World, e protocol.TilePlayed) {
	s.logger.Info("Processing TILE_PLAYED", log.String("player", e.PlayerID), log.String("tile", e.TileID))

	_, table, ok := single[*Table](w, TypeTable)
	if !ok {
		table = &Table{}
		w.AddComponent(w.CreateEntity(), table)
	}
	table.Tiles = append(table.Tiles, TablePlay{TileID: e.TileID, PlayerID: e.PlayerID, At: s.now()})
}

// turnChanged resolves the player index against the seats present now,
// not when the event was queued.
func (s *ServerEventSystem) turnChanged(w *world.World, e protocol.TurnChanged) {
	seats := players(w)
	if len(seats) == 0 {
		s.logger.Warn("No players found in world", log.Int("player_index", e.PlayerIndex))
		return
	}
	if e.PlayerIndex < 0 || e.PlayerIndex >= len(seats) {
		s.logger.Warn("Invalid player index",
			log.Int("player_index", e.PlayerIndex),
			log.Int("players", len(seats)))
		return
	}
	next := seats[e.PlayerIndex].PlayerID

	_, turn, ok := single[*Turn](w, TypeTurn)
	if !ok {
		turn = &Turn{}
		w.AddComponent(w.CreateEntity(), turn)
	}
	turn.CurrentPlayerID = next
	turn.TurnNumber++
	turn.LastActionTime = s.now()

	if _, gs, ok := single[*GameState](w, TypeGameState); ok {
		gs.CurrentPlayerIndex = e.PlayerIndex
	}
	s.logger.Debug("Turn changed", log.String("player", next), log.Int("turn", turn.TurnNumber))
}

func (s *ServerEventSystem) setPhase(w *world.World, phase GamePhase, winner string) {
	_, gs, ok := single[*GameState](w, TypeGameState)
	if !ok {
		s.logger.Warn("No game state entity", log.String("phase", string(phase)))
		return
	}
	gs.Phase = phase
	gs.Winner = winner
}

// GameStateSystem keeps the game state's seat index aligned with the turn
// owner.
type GameStateSystem struct{}

func (GameStateSystem) Order() int { return 0 }

func (GameStateSystem) Update(w *world.World, _ float64) {
	_, gs, ok := single[*GameState](w, TypeGameState)
	if !ok {
		return
	}
	_, turn, ok := single[*Turn](w, TypeTurn)
	if !ok {
		return
	}
	for i, p := range players(w) {
		if p.PlayerID == turn.CurrentPlayerID {
			gs.CurrentPlayerIndex = i
			return
		}
	}
}

// PlayerSystem drops tiles from hands once they are on the table.
type PlayerSystem struct{}

func (PlayerSystem) Order() int { return 1 }

func (PlayerSystem) Update(w *world.World, _ float64) {
	_, table, ok := single[*Table](w, TypeTable)
	if !ok || len(table.Tiles) == 0 {
		return
	}
	played := make(map[string]string, len(table.Tiles))
	for _, t := range table.Tiles {
		played[t.TileID] = t.PlayerID
	}
	for _, p := range players(w) {
		kept := p.Tiles[:0]
		for _, tile := range p.Tiles {
			if owner, ok := played[tile]; ok && owner == p.PlayerID {
				continue
			}
			kept = append(kept, tile)
		}
		p.Tiles = kept
	}
}

// TableOwner is the owner id of tiles that have been played.
const TableOwner = "table"

// TileSystem moves ownership of played tile entities to the table.
type TileSystem struct{}

func (TileSystem) Order() int { return 2 }

func (TileSystem) Update(w *world.World, _ float64) {
	_, table, ok := single[*Table](w, TypeTable)
	if !ok || len(table.Tiles) == 0 {
		return
	}
	onTable := make(map[string]struct{}, len(table.Tiles))
	for _, t := range table.Tiles {
		onTable[t.TileID] = struct{}{}
	}
	for _, id := range w.EntitiesWith(TypeTile) {
		c, _ := w.GetComponent(id, TypeTile)
		tile := c.(*Tile)
		if _, ok := onTable[tile.TileID]; ok {
			tile.OwnerID = TableOwner
		}
	}
}

// AnimationSystem ages table plays so views can ease new tiles in.
type AnimationSystem struct{}

func (AnimationSystem) Phase() world.Phase { return world.PhaseAnimation }

func (AnimationSystem) Update(w *world.World, dt float64) {
	_, table, ok := single[*Table](w, TypeTable)
	if !ok {
		return
	}
	for i := range table.Tiles {
		table.Tiles[i].Age += dt
	}
}

// UIProjectionSystem publishes an immutable View after every tick.
type UIProjectionSystem struct {
	publish func(View)
}

func NewUIProjectionSystem(publish func(View)) *UIProjectionSystem {
	return &UIProjectionSystem{publish: publish}
}

func (*UIProjectionSystem) Phase() world.Phase { return world.PhaseUIProjection }

func (u *UIProjectionSystem) Update(w *world.World, _ float64) {
	u.publish(Project(w))
}
