package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/me/wdist/pkg/model"
	"github.com/spf13/cobra"
)

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Start, stop or inspect the coordinator service",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Accept new task submissions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serviceAction(cmd, "start")
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Reject new task submissions; queued tasks are kept",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serviceAction(cmd, "stop")
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the service status snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := client.Get("/api/v1/status")
				if err != nil {
					return fmt.Errorf("service status: %w", err)
				}
				var snap model.ServiceStatus
				if err := resp.decode(&snap); err != nil {
					return err
				}
				printServiceStatus(cmd, snap)
				return nil
			},
		},
	)
	return cmd
}

func serviceAction(cmd *cobra.Command, action string) error {
	resp, err := client.Post("/api/v1/service/"+action, nil)
	if err != nil {
		return fmt.Errorf("service %s: %w", action, err)
	}
	var snap model.ServiceStatus
	if err := resp.decode(&snap); err != nil {
		return err
	}
	if snap.IsRunning {
		printStyled(cmd.OutOrStdout(), successStyle, "Service is running")
	} else {
		printStyled(cmd.OutOrStdout(), warnStyle, "Service is stopped")
	}
	return nil
}

func printServiceStatus(cmd *cobra.Command, snap model.ServiceStatus) {
	out := cmd.OutOrStdout()

	state := warnStyle.Render("stopped")
	if snap.IsRunning {
		state = successStyle.Render("running")
	}
	fmt.Fprintf(out, "Service:     %s\n", state)
	if snap.StartedAt != nil {
		fmt.Fprintf(out, "Started:     %s\n", humanize.Time(*snap.StartedAt))
	}
	fmt.Fprintf(out, "Connections: %d\n", snap.ConnectedWorkers)
	fmt.Fprintf(out, "Queue depth: %d\n", snap.QueueDepth)
	fmt.Fprintf(out, "Waiting:     %d admin caller(s)\n", snap.PendingReplies)
	if snap.OrphanedTasks > 0 {
		printStyled(out, errorStyle, "Orphaned:    %d task(s) in progress on lost workers", snap.OrphanedTasks)
	}

	fmt.Fprintln(out, headerStyle.Render("\nWorkers"))
	for _, st := range []model.WorkerStatus{
		model.WorkerStatusIdle, model.WorkerStatusBusy,
		model.WorkerStatusConnected, model.WorkerStatusDisconnected,
	} {
		fmt.Fprintf(out, "  %s %d\n", renderStatus(string(st), 13), snap.WorkersByStatus[st])
	}

	fmt.Fprintln(out, headerStyle.Render("\nTasks"))
	statuses := make([]string, 0, len(snap.TasksByStatus))
	for st := range snap.TasksByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		fmt.Fprintln(out, "  none")
	}
	for _, st := range statuses {
		fmt.Fprintf(out, "  %s %d\n", renderStatus(st, 13), snap.TasksByStatus[model.TaskStatus(st)])
	}
}
