package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picogrid/legion-missions/pkg/config"
	"github.com/picogrid/legion-missions/pkg/logger"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and write the engine configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after defaults, the config file and environment overrides are applied`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfigOrDefault(cfgFile)
		if err != nil {
			return err
		}
		fmt.Println(cfg.String())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "legion-missions.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if force, _ := cmd.Flags().GetBool("force"); !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}

		if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
			return err
		}
		logger.Successf("Default configuration written to %s", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
