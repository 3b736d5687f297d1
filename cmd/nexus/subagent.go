package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildSubagentCmd creates the "subagent" command group.
func buildSubagentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subagent",
		Short: "Inspect background subagent runs on a running nexus server",
	}
	cmd.AddCommand(buildSubagentListCmd())
	return cmd
}

func buildSubagentListCmd() *cobra.Command {
	var (
		serverAddr string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a session's subagent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newAPIClient(serverAddr).listSubagents(sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No subagent runs.")
				return nil
			}
			for _, task := range tasks {
				fmt.Fprintf(out, "%s  %-8s  %-10s  %q\n", task.ID, task.Channel, task.Status, task.Label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "http://localhost:8080", "Base URL of a running nexus serve process")
	cmd.Flags().StringVar(&sessionID, "session", "", "Parent session ID to list subagent runs for (required)")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
