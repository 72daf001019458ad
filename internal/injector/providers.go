package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/tablesync/internal/client"
	"github.com/zeusync/tablesync/internal/config"
	"github.com/zeusync/tablesync/internal/core/clock"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/lobby"
	"github.com/zeusync/tablesync/internal/room"
	"github.com/zeusync/tablesync/internal/room/replay"
)

// App is the fully wired client runtime.
type App struct {
	Config    config.Config
	Logger    log.Log
	Scheduler clock.Scheduler
	Client    *client.Client
	Room      *room.Service
	Lobby     *lobby.Directory
	Replay    *replay.Log
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideScheduler,
	ProvideClient,
	ProvideReplayLog,
	ProvideRoom,
	ProvideLobby,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) (*log.Logger, func()) {
	logger := log.New(log.ParseLevel(cfg.LogLevel))
	return logger, func() { _ = logger.Sync() }
}

func ProvideScheduler() clock.Scheduler {
	return clock.Wall{}
}

func ProvideClient(cfg config.Config, logger log.Log, sched clock.Scheduler) (*client.Client, func()) {
	c := client.New(cfg.Client, client.WithLogger(logger), client.WithScheduler(sched))
	return c, func() { _ = c.Disconnect() }
}

// ProvideReplayLog records under the seeded room id; snapshots carry the
// authoritative one.
func ProvideReplayLog(sched clock.Scheduler, logger log.Log) *replay.Log {
	return replay.NewLog(room.DefaultState().RoomID, sched.Now, logger)
}

func ProvideRoom(c *client.Client, rec *replay.Log, sched clock.Scheduler, logger log.Log) (*room.Service, func()) {
	svc := room.NewService(logger, room.WithClock(sched.Now), room.WithRecorder(rec))
	svc.Attach(c)
	return svc, svc.Close
}

func ProvideLobby(c *client.Client, sched clock.Scheduler, logger log.Log) (*lobby.Directory, func()) {
	d := lobby.NewDirectory(c, sched.Now, logger)
	return d, d.Close
}
