package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "marketsim",
	Short: "marketsim - cycle-driven stock market simulation",
	Long: `marketsim runs a seeded stock market simulation: candles, sector
momentum and phases, a market maker, trading agents, credit and short
selling, advanced one cycle at a time by a pausable scheduler.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
