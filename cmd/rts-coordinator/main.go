// Package main is the entry point for the test stand coordinator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fnal-rts/rts-coordinator/internal/bridge"
	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/health"
	"github.com/fnal-rts/rts-coordinator/internal/httpapi"
	"github.com/fnal-rts/rts-coordinator/internal/motion"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
	"github.com/fnal-rts/rts-coordinator/internal/store"
	"github.com/fnal-rts/rts-coordinator/internal/transport"
	"github.com/fnal-rts/rts-coordinator/pkg/api"
	"github.com/fnal-rts/rts-coordinator/pkg/mcp"
)

var version = "dev"

var (
	configPath = flag.String("config", "config.yaml", "Path to config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	planMode   = flag.String("plan-mode", "", "Chip plan mode (full, file, interactive)")
	bypass     = flag.Bool("bypass", false, "Use simulated motion instead of the controller")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file and environment.
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *planMode != "" {
		cfg.PlanMode = *planMode
	}
	if *bypass {
		cfg.BypassHardware = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("coordinator stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("RTS coordinator starting",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Bool("bypass_hardware", cfg.BypassHardware),
		zap.String("plan_mode", cfg.PlanMode),
	)

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.ImageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	storeDB, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer storeDB.Close()

	// The plan prompts on stdin, which the MCP server would otherwise own.
	if cfg.PlanMode == plan.ModeInteractive && cfg.MCPEnabled {
		logger.Warn("interactive plan mode reads stdin, disabling MCP server")
		cfg.MCPEnabled = false
	}
	chips, err := plan.Build(plan.Source{
		Mode:  cfg.PlanMode,
		File:  cfg.PlanFile,
		Tray:  cfg.PlanTray,
		Board: cfg.PlanBoard,
		In:    os.Stdin,
		Out:   os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to build chip plan: %w", err)
	}

	sm := state.NewMachine()

	var registry *prometheus.Registry
	var metrics *health.Metrics
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = health.NewMetrics(registry)
	}
	monitor := health.NewMonitor(cfg, sm, metrics, logger)
	monitor.Start()
	defer monitor.Stop()

	var (
		mover     station.Motion
		client    *transport.Client
		connected func() bool
	)
	if cfg.BypassHardware {
		mover = station.NewSimulatedMotion(logger)
	} else {
		client = transport.NewClient(transport.Config{
			Address:             cfg.Address(),
			ConnectTimeout:      cfg.ConnectTimeout,
			ResponseTimeout:     cfg.ResponseTimeout,
			ReconnectMaxRetries: cfg.ReconnectMaxRetries,
			ReconnectBaseDelay:  cfg.ReconnectBaseDelay,
			ReconnectMaxDelay:   cfg.ReconnectMaxDelay,
			Repeatable:          motion.Repeatable,
		}, logger)
		client.OnReconnect(monitor.RecordReconnect)
		defer client.Close()

		opts := motion.DefaultOptions()
		opts.MaxRetries = cfg.MoveMaxRetries
		opts.Settle = cfg.IdleSettle
		opts.DUT = motion.DUTType(cfg.DUTType)
		mover = motion.NewOps(client, opts, logger)
		connected = client.Connected
	}

	// A chip left on the gripper by the previous session is still there.
	prev, err := storeDB.State.GetState(context.Background())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read saved state: %w", err)
	}
	if prev != nil && prev.ChipsOnGripper {
		logger.Warn("previous session ended with a chip on the gripper",
			zap.String("session_id", prev.SessionID),
			zap.Stringer("state", prev.State),
		)
		sm.SetChipsOnGripper(true)
	}

	stand, err := station.New(station.Config{
		Machine: sm,
		Plan:    chips,
		Motion:  mover,
		Caps: station.Capabilities{
			Notifier: station.NewLogNotifier(logger),
		},
		Store: station.Persistence{
			State:    storeDB.State,
			Sessions: storeDB.Sessions,
			Results:  storeDB.Results,
		},
		Recorder:        monitor,
		Connected:       connected,
		AutoRaiseFaults: cfg.AutoRaiseFaults,
		BadTray:         motion.Location{Tray: cfg.BadTray, Column: cfg.BadTrayCol, Row: cfg.BadTrayRow},
		ImageDir:        cfg.ImageDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create stand: %w", err)
	}
	defer stand.Close()
	monitor.SetProbe(stand)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// A quit decision ends Run and takes everything else down with it.
	g.Go(func() error {
		defer cancel()
		return stand.Run(gctx)
	})

	if client != nil {
		g.Go(func() error {
			connectController(gctx, client, stand, monitor, logger)
			return nil
		})
	}

	feed := bridge.NewBridge(cfg, stand, logger)
	feed.OnSignal(func(sig bridge.Signal, out bridge.Outcome) {
		logger.Debug("feed signal", zap.Stringer("kind", sig.Kind), zap.String("line", sig.Line), zap.String("outcome", string(out)))
	})
	g.Go(func() error {
		return feed.Run(gctx)
	})

	if cfg.HTTPEnabled {
		var gatherer prometheus.Gatherer
		if registry != nil {
			gatherer = registry
		}
		srv := httpapi.NewServer(cfg.HTTPAddr, stand, monitor, gatherer, logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	if cfg.MCPEnabled {
		handler := api.NewHandler(stand, monitor)
		mcpServer := mcp.NewServer(os.Stdin, os.Stdout, handler, version, logger)
		sm.OnTransition(func(context.Context, state.State, state.State, state.Trigger) {
			mcpServer.NotifyResourceUpdated(api.ResourceStateURI)
		})
		g.Go(func() error {
			err := mcpServer.Run(gctx)
			// Without HTTP the MCP client is the only operator.
			if !cfg.HTTPEnabled {
				cancel()
			}
			return err
		})
	}

	logger.Info("coordinator initialized",
		zap.String("store_path", cfg.StorePath),
		zap.String("session_id", stand.Session().ID),
		zap.Int("plan_size", chips.Len()),
		zap.Stringer("state", sm.Current()),
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// connectController opens the controller link. A failure puts the stand
// into no_server_connection and keeps retrying in the background; the
// fault is recovered once the link is up.
func connectController(ctx context.Context, client *transport.Client, stand *station.Stand, monitor *health.Monitor, log *zap.Logger) {
	err := client.Connect(ctx)
	if err == nil {
		return
	}
	log.Error("failed to connect to controller", zap.Error(err))

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := stand.ReportFault(rctx, state.StateNoServerConnection); err != nil {
		log.Warn("failed to raise no_server_connection", zap.Error(err))
	}

	monitor.ScheduleReconnect(func(ctx context.Context) error {
		if err := client.Connect(ctx); err != nil {
			return err
		}
		if stand.Snapshot().State != state.StateNoServerConnection {
			return nil
		}
		return stand.Recover(ctx)
	})
}
