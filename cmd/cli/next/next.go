// Package next previews a recurrence without calling the API.
package next

import (
	"fmt"
	"time"

	"github.com/crucial707/resource-scheduler/cmd/cli/output"
	"github.com/crucial707/resource-scheduler/internal/recurrence"
	"github.com/spf13/cobra"
)

// Command returns the "next" command.
func Command() *cobra.Command {
	var (
		scheduleType, scheduleTime, timezone, after string
		count                                       int
	)
	cmd := &cobra.Command{
		Use:     "next",
		Short:   "Preview the next occurrences of a recurrence",
		Example: `  rsched next --recurrence weekdays --at 19:00 --tz America/Sao_Paulo --count 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := recurrence.Parse(recurrence.Pattern(scheduleType), scheduleTime, timezone)
			if err != nil {
				return err
			}
			from := time.Now()
			if after != "" {
				if from, err = time.Parse(time.RFC3339, after); err != nil {
					return fmt.Errorf("--after must be RFC 3339: %w", err)
				}
			}
			if count < 1 || count > 100 {
				return fmt.Errorf("--count must be between 1 and 100")
			}

			times := rule.Upcoming(from, count)
			f := cmd.Flag("json")
			if f != nil && f.Value.String() == "true" {
				return output.PrintJSON(cmd.OutOrStdout(), times)
			}
			rows := make([][]interface{}, 0, len(times))
			for _, t := range times {
				rows = append(rows, []interface{}{
					t.Format(time.RFC3339),
					t.In(rule.Location).Format("Mon 2006-01-02 15:04 MST"),
				})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"UTC", "Local"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&scheduleType, "recurrence", "daily", "daily, weekdays or weekends")
	cmd.Flags().StringVar(&scheduleTime, "at", "", "local time HH:MM")
	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA timezone")
	cmd.Flags().StringVar(&after, "after", "", "start from this RFC 3339 instant instead of now")
	cmd.Flags().IntVar(&count, "count", 5, "number of occurrences")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}
