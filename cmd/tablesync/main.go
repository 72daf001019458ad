package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/tablesync/internal/config"
	"github.com/zeusync/tablesync/internal/core/observability/log"
	"github.com/zeusync/tablesync/internal/core/transport"
	"github.com/zeusync/tablesync/internal/injector"
	"github.com/zeusync/tablesync/internal/room/replay"
)

func main() {
	configPath := flag.String("config", "", "path to a tablesync YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	if err = run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup := injector.InitializeApp(cfg)
	defer cleanup()

	logger := app.Logger.With(log.String("component", "main"))

	unsubscribe := app.Client.OnStateChange(func(from, to transport.State) {
		logger.Info("Connection state changed", log.String("from", from.String()), log.String("to", to.String()))
		if to != transport.Connected {
			return
		}
		if _, err := app.Lobby.Refresh(); err != nil {
			logger.Warn("Failed to request room list", log.Error(err))
		}
		if cfg.Client.MockMode {
			playFirstTile(app, logger)
		}
	})
	defer unsubscribe()

	if err := app.Client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tick(gctx, app, cfg.TickInterval())
	})
	g.Go(func() error {
		return watch(gctx, app)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if cfg.ReplayPath != "" {
		if exportErr := exportReplay(cfg.ReplayPath, app.Replay); exportErr != nil {
			logger.Error("Failed to export replay", log.Error(exportErr))
		} else {
			logger.Info("Replay exported", log.String("path", cfg.ReplayPath), log.Int("events", app.Replay.Len()))
		}
	}
	return err
}

// tick drives the room world at a fixed interval until ctx is done.
func tick(ctx context.Context, app *injector.App, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			app.Room.Update(now.Sub(last).Seconds())
			last = now
		}
	}
}

// watch stops the run once the transport gives up reconnecting.
func watch(ctx context.Context, app *injector.App) error {
	closed := make(chan struct{})
	var once sync.Once
	unsubscribe := app.Client.OnStateChange(func(_, to transport.State) {
		if to == transport.Closed {
			once.Do(func() { close(closed) })
		}
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		if err := app.Client.Err(); err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		return nil
	}
}

func playFirstTile(app *injector.App, logger log.Log) {
	view := app.Room.View()
	for _, p := range view.Players {
		if !p.IsCurrent || p.HandSize == 0 {
			continue
		}
		tiles := app.Room.Hand(p.ID)
		if len(tiles) == 0 {
			return
		}
		seq, err := app.Room.PlayTile(tiles[0])
		if err != nil {
			logger.Warn("Failed to play tile", log.Error(err))
			return
		}
		logger.Info("Played tile", log.String("tileId", tiles[0]), log.Uint64("seq", uint64(seq)))
		return
	}
}

func exportReplay(path string, rec *replay.Log) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return replay.Export(f, rec.Data())
}
