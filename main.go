package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"roost/server/internal/config"
	"roost/server/internal/httpapi"
	"roost/server/internal/store"
	"roost/server/internal/voice"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

const metricsInterval = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "", "YAML config file path")
	addr := flag.String("addr", "", "UDP listen address (overrides config)")
	httpAddr := flag.String("http", "", "Status API listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	serverName := flag.String("name", "", "Server display name (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *serverName != "" {
		cfg.ServerName = *serverName
	}

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := cfg.SlogLevel()
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if RunCLI(flag.Args(), cfg.DBPath) {
		return
	}

	slog.Info("starting server", "version", Version, "addr", cfg.ListenAddr, "db", cfg.DBPath)

	sqliteStore, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	bootCtx := context.Background()
	for _, room := range cfg.Rooms {
		if err := sqliteStore.UpsertRoom(bootCtx, room.ID, room.Name, room.Description); err != nil {
			slog.Error("apply room override", "room_id", room.ID, "err", err)
			os.Exit(1)
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		slog.Error("resolve listen address", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		slog.Error("bind udp socket", "addr", cfg.ListenAddr, "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	guard := newJoinGuard()
	engine := voice.NewServer(conn, voice.Hooks{
		TryJoin: func(ctx context.Context, hwid string) error {
			if err := guard.claim(hwid); err != nil {
				return err
			}
			if err := sqliteStore.TryJoin(ctx, hwid); err != nil {
				guard.release(hwid)
				return err
			}
			return nil
		},
		OnDisconnect: func(hwid string) {
			guard.release(hwid)
			if err := sqliteStore.TouchDisconnect(context.Background(), hwid); err != nil {
				slog.Warn("record disconnect", "hwid", hwid, "err", err)
			}
		},
	})

	rooms, err := sqliteStore.Rooms(bootCtx)
	if err != nil {
		slog.Error("load room catalog", "err", err)
		os.Exit(1)
	}
	for _, room := range rooms {
		engine.AddRoomWithID(room.ID, room.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	// Closing the socket unblocks the read loop on shutdown.
	stopRead := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopRead()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return engine.RunSweeper(gctx) })
	g.Go(func() error { return engine.RunMetrics(gctx, metricsInterval) })
	if cfg.HTTPAddr != "" {
		api := httpapi.New(engine, cfg.ServerName)
		g.Go(func() error { return api.Run(gctx, cfg.HTTPAddr) })
	}

	slog.Info("listening", "udp", cfg.ListenAddr, "http", cfg.HTTPAddr)
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// joinGuard tracks HWIDs with a live session so one hardware id cannot hold
// two sessions at once.
type joinGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newJoinGuard() *joinGuard {
	return &joinGuard{active: make(map[string]struct{})}
}

func (g *joinGuard) claim(hwid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[hwid]; ok {
		return fmt.Errorf("user with hwid `%s` is already joined", hwid)
	}
	g.active[hwid] = struct{}{}
	return nil
}

func (g *joinGuard) release(hwid string) {
	g.mu.Lock()
	delete(g.active, hwid)
	g.mu.Unlock()
}
