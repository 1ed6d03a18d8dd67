package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/picogrid/legion-missions/pkg/plan"
)

var listCmd = &cobra.Command{
	Use:   "list [dirs...]",
	Short: "List mission plans",
	Long:  `List every *.plan.yaml file under the project root or the given directories`,
	RunE:  listPlans,
}

func listPlans(cmd *cobra.Command, args []string) error {
	plans, err := plan.Discover(args...)
	if err != nil {
		return fmt.Errorf("failed to discover plans: %w", err)
	}

	if len(plans) == 0 {
		fmt.Println("No mission plans found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tDRONE\tWAYPOINTS\tDISTANCE\tFILE")
	_, _ = fmt.Fprintln(w, "----\t-----\t---------\t--------\t----")

	for _, info := range plans {
		p := info.Plan
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f km\t%s\n",
			p.Name,
			p.DroneID,
			len(p.Waypoints),
			p.RouteLength()/1000,
			relativePath(info.Path),
		)
	}

	return w.Flush()
}

func relativePath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil {
		return rel
	}
	return path
}
