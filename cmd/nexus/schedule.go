package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildScheduleCmd creates the "schedule" command group, grounded on the
// teacher's command-group-plus-subcommand cobra layout (e.g. buildServiceCmd
// attaching install/repair/status).
func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect scheduled tasks on a running nexus server",
	}
	cmd.AddCommand(buildScheduleListCmd())
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	var (
		serverAddr string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a session's scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newAPIClient(serverAddr).listSchedule(sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No scheduled tasks.")
				return nil
			}
			for _, task := range tasks {
				fmt.Fprintf(out, "%s  %s  %q  enabled=%v  runs=%d\n",
					task.ID, task.CronExpression, task.Description, task.Enabled, task.RunCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "http://localhost:8080", "Base URL of a running nexus serve process")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to list tasks for (required)")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
