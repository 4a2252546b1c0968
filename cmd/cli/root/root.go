package root

import (
	"github.com/crucial707/resource-scheduler/cmd/cli/next"
	"github.com/crucial707/resource-scheduler/cmd/cli/schedules"
	"github.com/spf13/cobra"
)

// New builds the rsched command tree.
func New() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rsched",
		Short: "Resource schedule CLI",
		Long: `Command line interface for the resource scheduler API.

The API URL comes from RSCHED_API_URL (default http://localhost:8080) and the bearer
token from RSCHED_TOKEN or ~/.rsched_token.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "print raw JSON instead of a table")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides RSCHED_API_URL)")

	rootCmd.AddCommand(schedules.Command(), next.Command())
	return rootCmd
}
