package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/picogrid/legion-missions/pkg/logger"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "legion-missions",
	Short: "Drone mission execution engine",
	Long: `legion-missions flies waypoint delivery missions for a fleet of drones.
Each mission takes off, visits its waypoints, scans a checkpoint at every
stop and returns home, holding whenever the weather gate reports unsafe
conditions. Drone positions can be streamed over websockets and
published to Legion.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "engine config file (default legion-missions.yaml or $HOME/.legion-missions/config.yaml)")
	rootCmd.PersistentFlags().String("env", "", "Legion environment name to publish to")
	rootCmd.PersistentFlags().String("url", "", "Legion API URL (overrides environment)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	for _, name := range []string{"env", "url", "log-level", "no-color"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// initConfig binds LEGION_* environment variables to the global flags and
// configures the console logger
func initConfig() {
	viper.SetEnvPrefix("legion")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	logger.SetLevel(logger.ParseLevel(viper.GetString("log-level")))
	logger.SetNoColor(viper.GetBool("no-color"))
}
