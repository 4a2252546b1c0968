package schedules

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/crucial707/resource-scheduler/cmd/cli/client"
	"github.com/crucial707/resource-scheduler/cmd/cli/config"
	"github.com/crucial707/resource-scheduler/cmd/cli/output"
	"github.com/crucial707/resource-scheduler/internal/models"
	"github.com/spf13/cobra"
)

// Command returns the "schedules" command and its subcommands.
func Command() *cobra.Command {
	schedulesCmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"sched"},
		Short:   "Manage resource schedules",
	}

	schedulesCmd.AddCommand(
		listCmd(),
		getCmd(),
		createCmd(),
		updateCmd(),
		setEnabledCmd("enable", true),
		setEnabledCmd("disable", false),
		deleteCmd(),
		runsCmd(),
	)
	return schedulesCmd
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	token, err := config.Token()
	if err != nil {
		return nil, err
	}
	base := config.APIURL()
	if f := cmd.Flag("api-url"); f != nil && f.Value.String() != "" {
		base = f.Value.String()
	}
	return client.New(base, token), nil
}

func jsonOutput(cmd *cobra.Command) bool {
	f := cmd.Flag("json")
	return f != nil && f.Value.String() == "true"
}

type page struct {
	Items  []models.Schedule `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func scheduleRows(items []models.Schedule) [][]interface{} {
	rows := make([][]interface{}, 0, len(items))
	for _, s := range items {
		status := "-"
		if s.LastRunStatus != nil {
			status = string(*s.LastRunStatus)
		}
		rows = append(rows, []interface{}{
			s.ID, s.ResourceName, string(s.Provider) + "/" + string(s.ResourceType), s.Action,
			fmt.Sprintf("%s %s %s", s.ScheduleType, s.ScheduleTime, s.Timezone),
			s.IsEnabled, output.Time(s.NextRunAt), status,
		})
	}
	return rows
}

var scheduleHeaders = []string{"ID", "Name", "Resource", "Action", "Recurrence", "Enabled", "Next run (UTC)", "Last status"}

func printSchedule(cmd *cobra.Command, s models.Schedule) error {
	if jsonOutput(cmd) {
		return output.PrintJSON(cmd.OutOrStdout(), s)
	}
	output.RenderTable(cmd.OutOrStdout(), []string{"Field", "Value"}, [][]interface{}{
		{"ID", s.ID},
		{"Resource", fmt.Sprintf("%s/%s %s", s.Provider, s.ResourceType, s.ResourceID)},
		{"Name", s.ResourceName},
		{"Action", s.Action},
		{"Recurrence", fmt.Sprintf("%s %s %s", s.ScheduleType, s.ScheduleTime, s.Timezone)},
		{"Enabled", s.IsEnabled},
		{"Next run (UTC)", output.Time(s.NextRunAt)},
		{"Last run (UTC)", output.Time(s.LastRunAt)},
		{"Last error", output.Str(s.LastRunError)},
	})
	return nil
}

// ==========================
// LIST
// ==========================
func listCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules in the token's workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			var p page
			if err := c.Do(cmd.Context(), "GET", "/schedules?"+q.Encode(), nil, &p); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return output.PrintJSON(cmd.OutOrStdout(), p)
			}
			output.RenderTable(cmd.OutOrStdout(), scheduleHeaders, scheduleRows(p.Items))
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(p.Items), p.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

// ==========================
// GET
// ==========================
func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			var s models.Schedule
			if err := c.Do(cmd.Context(), "GET", "/schedules/"+url.PathEscape(args[0]), nil, &s); err != nil {
				return err
			}
			return printSchedule(cmd, s)
		},
	}
}

// ==========================
// CREATE
// ==========================
func createCmd() *cobra.Command {
	var (
		providerName, resourceType, resourceID, resourceName string
		action, scheduleType, scheduleTime, timezone         string
		disabled                                             bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		Example: `  rsched schedules create --provider aws --type ec2 --resource i-0abc --action stop \
    --recurrence weekdays --at 19:00 --tz America/Sao_Paulo`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			payload := map[string]any{
				"provider":      providerName,
				"resource_type": resourceType,
				"resource_id":   resourceID,
				"resource_name": resourceName,
				"action":        action,
				"schedule_type": scheduleType,
				"schedule_time": scheduleTime,
				"timezone":      timezone,
				"is_enabled":    !disabled,
			}
			var s models.Schedule
			if err := c.Do(cmd.Context(), "POST", "/schedules", payload, &s); err != nil {
				return err
			}
			return printSchedule(cmd, s)
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "cloud provider (aws, azure)")
	cmd.Flags().StringVar(&resourceType, "type", "", "resource type (ec2, rds, vm, app_service)")
	cmd.Flags().StringVar(&resourceID, "resource", "", "provider resource id")
	cmd.Flags().StringVar(&resourceName, "name", "", "display name")
	cmd.Flags().StringVar(&action, "action", "", "start or stop")
	cmd.Flags().StringVar(&scheduleType, "recurrence", "daily", "daily, weekdays or weekends")
	cmd.Flags().StringVar(&scheduleTime, "at", "", "local time HH:MM")
	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA timezone")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the schedule disabled")
	for _, f := range []string{"provider", "type", "resource", "action", "at"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// ==========================
// UPDATE
// ==========================
func updateCmd() *cobra.Command {
	var scheduleType, scheduleTime, timezone, resourceName string
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change a schedule's recurrence or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			if cmd.Flags().Changed("recurrence") {
				patch["schedule_type"] = scheduleType
			}
			if cmd.Flags().Changed("at") {
				patch["schedule_time"] = scheduleTime
			}
			if cmd.Flags().Changed("tz") {
				patch["timezone"] = timezone
			}
			if cmd.Flags().Changed("name") {
				patch["resource_name"] = resourceName
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to update: pass --recurrence, --at, --tz or --name")
			}
			return patchSchedule(cmd, args[0], patch)
		},
	}
	cmd.Flags().StringVar(&scheduleType, "recurrence", "", "daily, weekdays or weekends")
	cmd.Flags().StringVar(&scheduleTime, "at", "", "local time HH:MM")
	cmd.Flags().StringVar(&timezone, "tz", "", "IANA timezone")
	cmd.Flags().StringVar(&resourceName, "name", "", "display name")
	return cmd
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: use + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return patchSchedule(cmd, args[0], map[string]any{"is_enabled": enabled})
		},
	}
}

func patchSchedule(cmd *cobra.Command, id string, patch map[string]any) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	var s models.Schedule
	if err := c.Do(cmd.Context(), "PATCH", "/schedules/"+url.PathEscape(id), patch, &s); err != nil {
		return err
	}
	return printSchedule(cmd, s)
}

// ==========================
// DELETE
// ==========================
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a schedule (its run history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Do(cmd.Context(), "DELETE", "/schedules/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schedule deleted")
			return nil
		},
	}
}

// ==========================
// RUNS
// ==========================
func runsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "Show a schedule's execution history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			var p struct {
				Items []models.Run `json:"items"`
			}
			if err := c.Do(cmd.Context(), "GET", "/schedules/"+url.PathEscape(args[0])+"/runs?"+q.Encode(), nil, &p); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return output.PrintJSON(cmd.OutOrStdout(), p.Items)
			}
			rows := make([][]interface{}, 0, len(p.Items))
			for _, run := range p.Items {
				errText := run.Error
				if errText == "" {
					errText = "-"
				}
				rows = append(rows, []interface{}{
					run.ScheduledFor.UTC().Format("2006-01-02T15:04:05Z"), run.Action, run.Status,
					run.Duration().Round(time.Millisecond), errText,
				})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Scheduled for (UTC)", "Action", "Status", "Took", "Error"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}
