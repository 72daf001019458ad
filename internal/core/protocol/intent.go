package protocol

import "fmt"

type IntentType string

const (
	IntentPlayTile      IntentType = "PLAY_TILE"
	IntentEnterRoom     IntentType = "ENTER_ROOM"
	IntentCreateRoom    IntentType = "CREATE_ROOM"
	IntentFetchRoomList IntentType = "FETCH_ROOM_LIST"
)

// Intent is a client-originated command that the server has not validated
// yet. The set of implementations is closed.
type Intent interface {
	IntentType() IntentType
	Validate() error
	isIntent()
}

type PlayTile struct {
	TileID string `json:"tileId"`
}

type EnterRoom struct {
	RoomID string `json:"roomId"`
}

type CreateRoom struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
}

type FetchRoomList struct{}

func (PlayTile) IntentType() IntentType      { return IntentPlayTile }
func (EnterRoom) IntentType() IntentType     { return IntentEnterRoom }
func (CreateRoom) IntentType() IntentType    { return IntentCreateRoom }
func (FetchRoomList) IntentType() IntentType { return IntentFetchRoomList }

func (PlayTile) isIntent()      {}
func (EnterRoom) isIntent()     {}
func (CreateRoom) isIntent()    {}
func (FetchRoomList) isIntent() {}

func (i PlayTile) Validate() error {
	if i.TileID == "" {
		return fmt.Errorf("%w: %s requires tileId", ErrInvalidIntent, IntentPlayTile)
	}
	return nil
}

func (i EnterRoom) Validate() error {
	if i.RoomID == "" {
		return fmt.Errorf("%w: %s requires roomId", ErrInvalidIntent, IntentEnterRoom)
	}
	return nil
}

func (i CreateRoom) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("%w: %s requires name", ErrInvalidIntent, IntentCreateRoom)
	}
	if i.MaxPlayers <= 0 {
		return fmt.Errorf("%w: %s maxPlayers must be positive, got %d", ErrInvalidIntent, IntentCreateRoom, i.MaxPlayers)
	}
	return nil
}

func (FetchRoomList) Validate() error { return nil }

// ValidateIntent rejects nil intents as well as invalid shapes.
func ValidateIntent(intent Intent) error {
	if intent == nil {
		return fmt.Errorf("%w: nil intent", ErrInvalidIntent)
	}
	return intent.Validate()
}
