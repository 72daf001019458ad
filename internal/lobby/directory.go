// Package lobby keeps the latest room list and turns lobby actions into
// intents. Room rules are the server's business.
package lobby

import (
	"sync"
	"time"

	"github.com/zeusync/tablesync/internal/client"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/protocol"
)

type Network interface {
	SendIntent(intent protocol.Intent) (protocol.Seq, error)
	Subscribe(eventType protocol.EventType, handler client.EventHandler) func()
}

type Directory struct {
	network     Network
	logger      log.Log
	now         func() time.Time
	unsubscribe func()

	mu        sync.RWMutex
	rooms     []protocol.RoomInfo
	updatedAt time.Time
}

func NewDirectory(n Network, now func() time.Time, logger log.Log) *Directory {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.NewNop()
	}
	d := &Directory{
		network: n,
		logger:  logger.With(log.String("component", "lobby")),
		now:     now,
	}
	d.unsubscribe = n.Subscribe(protocol.EventRoomListUpdated, d.handle)
	return d
}

// Refresh asks the server for the room list.
func (d *Directory) Refresh() (protocol.Seq, error) {
	d.logger.Debug("Fetching room list")
	return d.network.SendIntent(protocol.FetchRoomList{})
}

func (d *Directory) Create(name string, maxPlayers int) (protocol.Seq, error) {
	d.logger.Debug("Creating room", log.String("name", name), log.Int("max_players", maxPlayers))
	return d.network.SendIntent(protocol.CreateRoom{Name: name, MaxPlayers: maxPlayers})
}

func (d *Directory) Enter(roomID string) (protocol.Seq, error) {
	d.logger.Debug("Entering room", log.String("room", roomID))
	return d.network.SendIntent(protocol.EnterRoom{RoomID: roomID})
}

// Rooms returns a copy of the last reported list.
func (d *Directory) Rooms() []protocol.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]protocol.RoomInfo(nil), d.rooms...)
}

func (d *Directory) Room(id string) (protocol.RoomInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return protocol.RoomInfo{}, false
}

// UpdatedAt is zero until the first list arrives.
func (d *Directory) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}

func (d *Directory) Close() {
	d.unsubscribe()
}

func (d *Directory) handle(event protocol.Event) {
	update, ok := event.(protocol.RoomListUpdated)
	if !ok {
		return
	}
	d.mu.Lock()
	d.rooms = append([]protocol.RoomInfo(nil), update.Rooms...)
	d.updatedAt = d.now()
	d.mu.Unlock()

	d.logger.Info("Room list updated", log.Int("rooms", len(update.Rooms)))
}
