package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railgo/server/internal/config"
	"github.com/railgo/server/internal/core/event"
	coresys "github.com/railgo/server/internal/core/system"
	"github.com/railgo/server/internal/data"
	"github.com/railgo/server/internal/marker"
	"github.com/railgo/server/internal/persist"
	"github.com/railgo/server/internal/railcache"
	"github.com/railgo/server/internal/scripting"
	"github.com/railgo/server/internal/system"
	"github.com/railgo/server/internal/track"
	"github.com/railgo/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              railsim  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m        voxel rail simulation server       \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("RAILSIM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Data tables and scripted track types
	printSection("data")

	trackTable, err := data.LoadTrackTypeTable(cfg.Data.TrackTypes)
	if err != nil {
		return fmt.Errorf("track types: %w", err)
	}
	printStat("block track types", trackTable.Count())

	markerTable, err := data.LoadMarkerTable(cfg.Data.MarkerBlocks)
	if err != nil {
		return fmt.Errorf("marker blocks: %w", err)
	}
	printStat("marker block kinds", markerTable.Count())

	luaEngine, err := scripting.NewEngine(cfg.Data.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer luaEngine.Close()
	printStat("lua track types", len(luaEngine.TrackTypes()))

	registry := track.NewRegistry(log)
	for _, t := range track.BlockTypesFromTable(trackTable) {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("track types: %w", err)
		}
	}
	for _, t := range luaEngine.TrackTypes() {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("lua track types: %w", err)
		}
	}
	printOK(fmt.Sprintf("%d track types registered", registry.Len()))
	fmt.Println()

	// 4. World, event bus and rail cache
	printSection("rail cache")

	universe := world.NewUniverse()
	bus := event.NewBus()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := railcache.NewMetrics(promReg)

	idx := railcache.NewIndex(cfg.Cache, universe, registry, marker.NewFinder(markerTable), metrics, log)
	idx.Subscribe(bus)

	grid := universe.Load(cfg.Demo.World)
	grid.OnChange(func(p world.Pos) { event.Emit(bus, event.BlockChanged{Pos: p}) })
	if err := idx.Open(grid.ID()); err != nil {
		return fmt.Errorf("open rail cache: %w", err)
	}
	laid := buildDemoTrack(grid, cfg.Demo, trackTable)
	printStat("demo track cells", laid)
	fmt.Println()

	// 5. Optional PostgreSQL zone store
	var zoneRepo *persist.ZoneRepo
	if cfg.Database.Enabled {
		printSection("database")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := persist.Open(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("zone store: %w", err)
		}
		defer store.Close()
		printOK("PostgreSQL connected, migrations applied")

		zoneRepo = store.Zones()
		n, err := loadZones(ctx, zoneRepo, idx, grid.ID())
		if err != nil {
			return fmt.Errorf("load zones: %w", err)
		}
		printStat("trigger zone cells", n)
		fmt.Println()
	}

	// 6. Metrics endpoint
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.BindAddress, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	// 7. Systems
	carts := system.NewCartSystem(idx, bus, cfg.Demo.StopHeader, log)
	runner := coresys.NewRunner()
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewRailMaintenanceSystem(idx, cfg.Logging.StatsIntervalTicks, log))
	runner.Register(carts)
	runner.Register(system.NewCleanupSystem(carts))

	spawned := spawnDemoCarts(carts, grid.ID(), cfg.Demo, log)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Server.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printStat("carts", spawned)
	if metricsSrv != nil {
		printReady("metrics on http://" + cfg.Metrics.BindAddress + "/metrics")
	}
	printReady(fmt.Sprintf("ticking every %s", cfg.Server.TickRate))
	fmt.Println()

	ticks := 0
	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Server.TickRate)
			ticks++
			if cfg.Demo.MaxTicks > 0 && ticks >= cfg.Demo.MaxTicks {
				log.Info("demo tick limit reached", zap.Int("ticks", ticks))
				return shutdown(idx, zoneRepo, metricsSrv, log)
			}

		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			return shutdown(idx, zoneRepo, metricsSrv, log)
		}
	}
}

func shutdown(idx *railcache.Index, zones *persist.ZoneRepo, metricsSrv *http.Server, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if zones != nil {
		if err := saveZones(ctx, zones, idx, log); err != nil {
			log.Error("save zones", zap.Error(err))
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}

	st := idx.Stats()
	log.Info("server stopped",
		zap.Int("worlds", st.Worlds),
		zap.Int("records", st.Records))
	return nil
}

// newLogger builds a JSON production logger or a colored console logger.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

// buildDemoTrack lays a straight line of the first block track type along +X
// at y=64, with a stop sign under the last cell. Returns the cells laid.
func buildDemoTrack(grid *world.Grid, demo config.DemoConfig, table *data.TrackTypeTable) int {
	if table.Count() == 0 || demo.Length <= 0 {
		return 0
	}
	kind := table.Entries()[0].Blocks[0]
	for x := 0; x < demo.Length; x++ {
		grid.SetBlock(world.BlockPos{X: x, Y: 64}, world.Block{Kind: kind})
	}
	if demo.StopHeader != "" {
		grid.SetBlock(world.BlockPos{X: demo.Length - 1, Y: 63},
			world.Block{Kind: "sign", Text: []string{demo.StopHeader}})
	}
	return demo.Length
}

// spawnDemoCarts staggers carts two cells apart from the start of the line.
func spawnDemoCarts(carts *system.CartSystem, worldID uuid.UUID, demo config.DemoConfig, log *zap.Logger) int {
	n := 0
	for i := 0; i < demo.Carts; i++ {
		pos := mgl64.Vec3{float64(2*i) + 0.5, 64.5, 0.5}
		if _, err := carts.Spawn(worldID, pos, mgl64.Vec3{demo.Speed, 0, 0}); err != nil {
			log.Warn("demo cart not spawned", zap.Int("cart", i), zap.Error(err))
			continue
		}
		n++
	}
	return n
}
