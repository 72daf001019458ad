package protocol

import "encoding/json"

type EventType string

const (
	EventTilePlayed      EventType = "TILE_PLAYED"
	EventTurnChanged     EventType = "TURN_CHANGED"
	EventGameStarted     EventType = "GAME_STARTED"
	EventGameEnded       EventType = "GAME_ENDED"
	EventRoomListUpdated EventType = "ROOM_LIST_UPDATED"
)

// Event is a server-originated fact. Known discriminants decode into their
// concrete payload; anything else decodes into UnknownEvent.
type Event interface {
	EventType() EventType
	isEvent()
}

type TilePlayed struct {
	PlayerID string `json:"playerId"`
	TileID   string `json:"tileId"`
}

type TurnChanged struct {
	PlayerIndex int `json:"playerIndex"`
}

type GameStarted struct {
	RoomID string `json:"roomId"`
}

type GameEnded struct {
	RoomID string `json:"roomId"`
	Winner string `json:"winner"`
}

type RoomListUpdated struct {
	Rooms []RoomInfo `json:"rooms"`
}

// RoomInfo is one lobby row as reported by the server.
type RoomInfo struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Players    int    `json:"players" yaml:"players"`
	MaxPlayers int    `json:"maxPlayers" yaml:"maxPlayers"`
	Status     string `json:"status,omitempty" yaml:"status,omitempty"`
}

// UnknownEvent carries an event whose discriminant this client does not know.
type UnknownEvent struct {
	Type    EventType
	Payload json.RawMessage
}

func (TilePlayed) EventType() EventType      { return EventTilePlayed }
func (TurnChanged) EventType() EventType     { return EventTurnChanged }
func (GameStarted) EventType() EventType     { return EventGameStarted }
func (GameEnded) EventType() EventType       { return EventGameEnded }
func (RoomListUpdated) EventType() EventType { return EventRoomListUpdated }
func (e UnknownEvent) EventType() EventType  { return e.Type }

func (TilePlayed) isEvent()      {}
func (TurnChanged) isEvent()     {}
func (GameStarted) isEvent()     {}
func (GameEnded) isEvent()       {}
func (RoomListUpdated) isEvent() {}
func (UnknownEvent) isEvent()    {}

// Snapshot is a full authoritative state capture. State is opaque to the
// transport layers.
type Snapshot struct {
	Seq   Seq             `json:"seq"`
	State json.RawMessage `json:"state"`
}
