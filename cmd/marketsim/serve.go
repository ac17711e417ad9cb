package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/marketsim/internal/api"
	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/engine"
	"github.com/newthinker/marketsim/internal/logger"
	"github.com/newthinker/marketsim/internal/metrics"
	"github.com/newthinker/marketsim/internal/storage/archive"
	"github.com/newthinker/marketsim/internal/storage/save"
	"github.com/newthinker/marketsim/internal/stream"
)

var (
	serveSeed     int64
	serveSavesDir string
	serveLoad     string
	serveSave     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation behind the HTTP API and WebSocket stream",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 0, "RNG seed (0 = from config, or random)")
	serveCmd.Flags().StringVar(&serveSavesDir, "saves-dir", "saves", "directory for save games")
	serveCmd.Flags().StringVar(&serveLoad, "load", "", "save name to resume from")
	serveCmd.Flags().StringVar(&serveSave, "save", "", "save name written on shutdown")

	rootCmd.AddCommand(serveCmd)
}

func loadConfig(log *zap.Logger) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
		log.Warn("no config file specified, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if serveSeed != 0 {
		cfg.Game.Seed = serveSeed
	}
	if cfg.Game.Seed == 0 {
		cfg.Game.Seed = time.Now().UnixNano()
	}

	store, err := save.NewFileStore(serveSavesDir)
	if err != nil {
		return err
	}
	arch, err := archive.New(cfg.Archive)
	if err != nil {
		return err
	}

	met := metrics.NewRegistry()
	eng := engine.New(cfg, log, met)

	if serveLoad != "" {
		data, err := store.Load(serveLoad)
		if err != nil {
			return err
		}
		if err := eng.RestoreSnapshot(data); err != nil {
			return fmt.Errorf("restoring save %q: %w", serveLoad, err)
		}
		log.Info("resumed from save",
			zap.String("name", serveLoad), zap.Int("cycle", eng.Cycle()))
	}
	if !eng.Started() {
		log.Info("starting game",
			zap.Int64("seed", cfg.Game.Seed),
			zap.Int("warmup_cycles", cfg.Agents.WarmupCycles))
		eng.Start(time.Now())
	}

	hub := stream.NewHub(cfg.Server.StreamBuffer, log)
	sched := engine.NewScheduler(cfg.Game.BaseInterval)
	sched.SetSuspend(eng.Ended)

	server, err := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MetricsPath: cfg.Server.MetricsPath,
		APIKey:      cfg.Server.APIKey,
	}, api.Dependencies{
		Engine:    eng,
		Scheduler: sched,
		Stream:    hub,
		Metrics:   met,
		Game:      cfg,
	}, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(ctx, cfg.Game.CountdownPoll, func() {
		eng.Tick(time.Now())
		if data, err := eng.MarshalSnapshot(); err == nil {
			hub.Broadcast(data)
		}
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	if serveSave != "" {
		data, err := eng.MarshalSnapshot()
		if err == nil {
			err = store.Save(serveSave, data)
		}
		if err != nil {
			log.Error("writing save failed", zap.String("name", serveSave), zap.Error(err))
		} else {
			log.Info("game saved", zap.String("name", serveSave), zap.Int("cycle", eng.Cycle()))
			if arch != nil {
				archCtx, archCancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := arch.Write(archCtx, serveSave, data); err != nil {
					log.Error("archiving save failed", zap.String("name", serveSave), zap.Error(err))
				}
				archCancel()
			}
		}
	}

	hub.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
