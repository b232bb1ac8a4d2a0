package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long: `Connect the configured capability servers and list every tool the
agent would see, grouped by category.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	rt, _, cleanup, err := setupRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	handles := rt.Registry().All()
	sort.Slice(handles, func(i, j int) bool {
		if handles[i].Category != handles[j].Category {
			return handles[i].Category < handles[j].Category
		}
		return handles[i].Name < handles[j].Name
	})

	out := cmd.OutOrStdout()
	var lastCategory string
	for _, h := range handles {
		category := string(h.Category)
		if category != lastCategory {
			fmt.Fprintf(out, "\n[%s]\n", category)
			lastCategory = category
		}
		fmt.Fprintf(out, "  %-24s %s\n", h.Name, h.Description)
	}
	fmt.Fprintf(out, "\n%d tools across %d servers\n", len(handles), len(rt.Connector().Servers()))

	return nil
}
