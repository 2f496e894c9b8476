package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"devicebridge"
	"devicebridge/internal/config"
	"devicebridge/internal/device"
	"devicebridge/internal/logger"
	"devicebridge/internal/metrics"
	"devicebridge/internal/repository"
	"devicebridge/internal/scenario"
	"devicebridge/internal/scheduler"
	"devicebridge/internal/server"
	"devicebridge/internal/sink"
	"devicebridge/internal/web"
)

func main() {
	var (
		configPath     = flag.String("config", "configs/config.yml", "configuration file path")
		mode           = flag.String("mode", config.ModeCustom, "run mode: quick | demo | stress | custom")
		durationMin    = flag.Int("duration", 0, "override simulation duration in minutes")
		devicesPerType = flag.Int("devices-per-type", 0, "override device count per type")
		scenarioName   = flag.String("scenario", "", "override starting scenario")
		quiet          = flag.Bool("quiet", false, "disable console sink output")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath, *mode, *durationMin, *devicesPerType, *quiet)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("configuration invalid", "err", err)
	}
	log := logger.Get(cfg.Log.Level)

	// scenario engine
	engine := scenario.New(cfg.ScenarioTable())
	start := *scenarioName
	if start == "" {
		start = startingScenario(cfg)
	}
	if err := engine.Activate(start); err != nil {
		log.Fatalw("cannot activate scenario", "err", err)
	}

	mets := metrics.New()
	dispatcher := sink.NewDispatcher(log, mets)

	// database sink shares its store with the run-summary table
	var (
		conn  *sql.DB
		repos *repository.Repository
	)
	if cfg.Sinks.Database.Enabled {
		conn, err = repository.InitDB(cfg.Sinks.Database.File)
		if err != nil {
			log.Fatalw("failed to init sqlite", "err", err)
		}
		defer func() {
			if cerr := conn.Close(); cerr != nil {
				log.Errorw("failed to close sqlite", "err", cerr)
			}
		}()
		repos = repository.NewRepository(conn)
	}

	registerSinks(cfg, dispatcher, repos, log)
	if len(dispatcher.Sinks()) == 0 {
		log.Warnw("no sinks enabled; readings will be generated and discarded")
	}

	// live feed + web surface
	feed := web.NewLiveFeed()
	sched := scheduler.New(dispatcher, engine, log, mets,
		time.Duration(cfg.Simulation.DrainGraceSeconds)*time.Second)
	if cfg.Simulation.EscalateTo != "" {
		sched.EscalateAfter(cfg.Simulation.EscalateTo,
			time.Duration(cfg.Simulation.EscalateAfterMinutes)*time.Minute)
	}

	var srv *server.Server
	if cfg.Web.Enabled {
		dispatcher.Tap(feed.Publish)
		handler := web.NewHandler(sched.Snapshot, feed, mets, log)
		srv = &server.Server{}
		go func() {
			if err := srv.Run(cfg.Web.Port, handler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("web server stopped", "err", err)
			}
		}()
	}

	// build the device fleet
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	specs := cfg.DeviceSpecs(rng)
	devices := make([]*device.Simulator, 0, len(specs))
	for i, spec := range specs {
		dev, err := device.NewSimulator(spec, engine, seed+int64(i)+1)
		if err != nil {
			log.Fatalw("cannot build device", "device", spec.ID, "err", err)
		}
		devices = append(devices, dev)
	}

	// cancel the run on SIGINT/SIGTERM; in-flight ticks finish, sinks drain
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start()
	summary, err := sched.Run(ctx, devices, time.Duration(cfg.Simulation.DurationMinutes)*time.Minute)
	if err != nil {
		log.Fatalw("run failed", "err", err)
	}

	if repos != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := repos.Runs.Save(saveCtx, *summary); err != nil {
			log.Errorw("failed to persist run summary", "err", err)
		}
		cancel()
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("web server shutdown failed", "err", err)
		}
		cancel()
	}

	printSummary(summary)
}

func loadConfig(path, mode string, durationMin, devicesPerType int, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(path, device.Kinds())
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyMode(mode); err != nil {
		return nil, err
	}
	if durationMin > 0 {
		cfg.Simulation.DurationMinutes = durationMin
	}
	if devicesPerType > 0 {
		cfg.Simulation.DevicesPerType = devicesPerType
	}
	if quiet {
		cfg.Sinks.Console.Enabled = false
	}
	return cfg, nil
}

// startingScenario picks the configured scenario, preferring
// normal_operation when the config names none.
func startingScenario(cfg *config.Config) string {
	if cfg.Simulation.Scenario != "" {
		return cfg.Simulation.Scenario
	}
	if _, ok := cfg.Scenarios["normal_operation"]; ok {
		return "normal_operation"
	}
	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

func registerSinks(cfg *config.Config, dispatcher *sink.Dispatcher, repos *repository.Repository, log *logger.Logger) {
	if cfg.Sinks.Console.Enabled {
		dispatcher.Register(sink.NewConsoleSink(cfg.Sinks.Console.Format), cfg.Sinks.Console.QueueSize)
	}
	if cfg.Sinks.File.Enabled {
		runDir := filepath.Join(cfg.Sinks.File.Directory,
			"run_"+time.Now().Format("20060102_150405"))
		dispatcher.Register(sink.NewFileSink(runDir), cfg.Sinks.File.QueueSize)
	}
	if cfg.Sinks.Database.Enabled && repos != nil {
		dispatcher.Register(
			sink.NewDatabaseSink(repos.Readings, cfg.Sinks.Database.BatchSize),
			cfg.Sinks.Database.QueueSize)
	}
	if cfg.Sinks.API.Enabled {
		dispatcher.Register(
			sink.NewAPISink(cfg.Sinks.API.URL, cfg.Sinks.API.AuthToken, cfg.Sinks.API.BatchSize, log.Named("api-sink")),
			cfg.Sinks.API.QueueSize)
	}
}

// printSummary writes the human-readable end-of-run report. Partial sink
// losses are listed here and do not affect the exit status.
func printSummary(s *devicebridge.RunSummary) {
	fmt.Println("==================== SIMULATION SUMMARY ====================")
	fmt.Printf("Run:       %s (scenario %s)\n", s.RunID, s.Scenario)
	fmt.Printf("Duration:  %s\n", s.EndedAt.Sub(s.StartedAt).Round(time.Second))
	fmt.Printf("Readings:  %d (%.2f/sec)\n", s.TotalReadings, s.Rate())

	kinds := make([]string, 0, len(s.ReadingsByKind))
	for kind := range s.ReadingsByKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-16s %d\n", kind, s.ReadingsByKind[kind])
	}

	sinks := make([]string, 0, len(s.Sinks))
	for name := range s.Sinks {
		sinks = append(sinks, name)
	}
	sort.Strings(sinks)
	for _, name := range sinks {
		st := s.Sinks[name]
		fmt.Printf("Sink %-12s delivered=%d dropped=%d retries=%d failures=%d\n",
			name, st.Delivered, st.Dropped, st.Retries, st.Failures)
	}
	if len(s.DeviceFaults) > 0 {
		fmt.Printf("Device faults: %d devices reported tick errors\n", len(s.DeviceFaults))
	}
	if !s.DrainedClean {
		fmt.Println("WARNING: some sinks could not drain within the grace period; losses are counted above")
	}
}
