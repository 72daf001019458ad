package room

import "github.com/zeusync/tablesync/internal/core/world"

// View is a read-only projection of a room for presentation code. It shares
// no memory with the world.
type View struct {
	RoomID          string
	Phase           GamePhase
	Winner          string
	TurnNumber      int
	CurrentPlayerID string
	Players         []PlayerView
	Table           []TablePlay
}

type PlayerView struct {
	ID        string
	Name      string
	HandSize  int
	Score     int
	IsCurrent bool
}

// Project builds a View from the current world contents.
func Project(w *world.World) View {
	var v View
	if _, gs, ok := single[*GameState](w, TypeGameState); ok {
		v.RoomID = gs.RoomID
		v.Phase = gs.Phase
		v.Winner = gs.Winner
	}
	if _, turn, ok := single[*Turn](w, TypeTurn); ok {
		v.TurnNumber = turn.TurnNumber
		v.CurrentPlayerID = turn.CurrentPlayerID
	}
	for _, p := range players(w) {
		v.Players = append(v.Players, PlayerView{
			ID:        p.PlayerID,
			Name:      p.Name,
			HandSize:  len(p.Tiles),
			Score:     p.Score,
			IsCurrent: p.PlayerID == v.CurrentPlayerID,
		})
	}
	if _, table, ok := single[*Table](w, TypeTable); ok && len(table.Tiles) > 0 {
		v.Table = append([]TablePlay(nil), table.Tiles...)
	}
	return v
}
