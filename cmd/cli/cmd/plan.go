package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage mission plans",
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a mission plan interactively",
	Long: `Create a mission plan by answering prompts. Every prompt can be
pre-filled with a LEGION_<KEY> environment variable, and
LEGION_SKIP_PROMPTS=true accepts the defaults without asking.`,
	RunE: createPlan,
}

var planShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Show the waypoints of a mission plan",
	Args:  cobra.ExactArgs(1),
	RunE:  showPlan,
}

func init() {
	planCreateCmd.Flags().StringP("output", "o", "", "output file (default plans/<name>.plan.yaml)")
	planCreateCmd.Flags().Bool("force", false, "overwrite an existing plan file")

	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planShowCmd)
}

func createPlan(cmd *cobra.Command, _ []string) error {
	p, err := plan.Prompt()
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = filepath.Join("plans", slug(p.Name)+plan.Suffix)
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(output); err == nil && !force {
		overwrite := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("%s exists, overwrite?", output),
			Default: false,
		}
		if err := survey.AskOne(prompt, &overwrite); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Plan not saved")
			return nil
		}
	}

	path, err := plan.Save(p, output)
	if err != nil {
		return err
	}

	logger.Successf("Plan %s saved to %s", p.Name, path)
	return nil
}

func showPlan(_ *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	logger.LogSection(p.Name)
	logger.LogKeyValue("Drone", p.DroneID)
	logger.LogKeyValue("Home", fmt.Sprintf("%.6f, %.6f", p.Home.Lat, p.Home.Lng))
	logger.LogKeyValue("Route", fmt.Sprintf("%.2f km", p.RouteLength()/1000))
	if p.Description != "" {
		logger.LogKeyValue("Description", p.Description)
	}

	table := logger.NewTable("#", "ID", "LAT", "LNG", "CHECKPOINT")
	for i, wp := range p.Waypoints {
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			wp.ID,
			fmt.Sprintf("%.6f", wp.Lat),
			fmt.Sprintf("%.6f", wp.Lng),
			fmt.Sprintf("%v", wp.Checkpoint),
		)
	}
	table.Print()
	return nil
}

func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
