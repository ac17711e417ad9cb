package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/marketsim/internal/engine"
	"github.com/newthinker/marketsim/internal/logger"
	"github.com/newthinker/marketsim/internal/storage/archive"
	"github.com/newthinker/marketsim/internal/storage/save"
)

var (
	runCycles   int
	runSeed     int64
	runSavesDir string
	runLoad     string
	runSave     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation headless for a number of cycles",
	Long: `Run advances the simulation without the server, as fast as it will
go, and prints the final standings. Useful for balancing and seeds.`,
	RunE: runHeadless,
}

func init() {
	runCmd.Flags().IntVar(&runCycles, "cycles", 0, "cycles to play (0 = configured game duration, or 200)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "RNG seed (0 = from config, or random)")
	runCmd.Flags().StringVar(&runSavesDir, "saves-dir", "saves", "directory for save games")
	runCmd.Flags().StringVar(&runLoad, "load", "", "save name to resume from")
	runCmd.Flags().StringVar(&runSave, "save", "", "save name written when the run ends")

	rootCmd.AddCommand(runCmd)
}

func runHeadless(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}
	if runSeed != 0 {
		cfg.Game.Seed = runSeed
	}
	if cfg.Game.Seed == 0 {
		cfg.Game.Seed = time.Now().UnixNano()
	}

	cycles := runCycles
	if cycles == 0 {
		cycles = cfg.Game.DurationCycles
	}
	if cycles == 0 {
		cycles = 200
	}

	store, err := save.NewFileStore(runSavesDir)
	if err != nil {
		return err
	}
	arch, err := archive.New(cfg.Archive)
	if err != nil {
		return err
	}

	eng := engine.New(cfg, log, nil)
	if runLoad != "" {
		data, err := store.Load(runLoad)
		if err != nil {
			return err
		}
		if err := eng.RestoreSnapshot(data); err != nil {
			return fmt.Errorf("restoring save %q: %w", runLoad, err)
		}
	}
	if !eng.Started() {
		eng.Start(time.Now())
	}

	start := time.Now()
	played := 0
	for ; played < cycles && !eng.Ended(); played++ {
		eng.Tick(time.Now())
	}
	log.Info("run finished",
		zap.Int64("seed", cfg.Game.Seed),
		zap.Int("cycles", played),
		zap.Bool("ended", eng.Ended()),
		zap.Duration("elapsed", time.Since(start)))

	fmt.Printf("=== Standings after cycle %d ===\n", eng.Cycle())
	for i, st := range eng.Standings() {
		fmt.Printf("%2d. %-16s %14.2f  %+7.2f%%\n", i+1, st.Name, st.Value, st.ReturnPct)
	}

	if runSave != "" {
		data, err := eng.MarshalSnapshot()
		if err == nil {
			err = store.Save(runSave, data)
		}
		if err != nil {
			return fmt.Errorf("writing save %q: %w", runSave, err)
		}
		if arch != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := arch.Write(ctx, runSave, data); err != nil {
				log.Error("archiving save failed", zap.String("name", runSave), zap.Error(err))
			}
		}
		fmt.Printf("saved as %q\n", runSave)
	}
	return nil
}
