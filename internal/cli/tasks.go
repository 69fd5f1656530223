package cli

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/pkg/model"
	"github.com/spf13/cobra"
)

func newSubmitCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "submit <command...>",
		Short: "Queue a command without waiting for its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/tasks/", map[string]string{
				"command":   strings.Join(args, " "),
				"worker_id": workerID,
			})
			if err != nil {
				return fmt.Errorf("submit: %w", err)
			}
			var data struct {
				TaskID string `json:"task_id"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}
			printStyled(cmd.OutOrStdout(), successStyle, "Task queued: %s", data.TaskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "Worker id the command is meant for")
	return cmd
}

func newTasksCmd() *cobra.Command {
	var (
		status   string
		workerID string
		limit    int
		offset   int
	)
	cmd := &cobra.Command{
		Use:   "tasks [task_id]",
		Short: "List live tasks, or show one task",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				resp, err := client.Get("/api/v1/tasks/" + url.PathEscape(args[0]))
				if err != nil {
					return fmt.Errorf("get task: %w", err)
				}
				var t model.Task
				if err := resp.decode(&t); err != nil {
					return err
				}
				printTask(cmd, t)
				return nil
			}

			resp, err := client.Get("/api/v1/tasks/" + listQuery(status, workerID, limit, offset))
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var tasks []model.Task
			if err := resp.decode(&tasks); err != nil {
				return err
			}
			printTasks(cmd, tasks)
			printMore(cmd, len(tasks), resp.Pagination)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, in_progress, completed, failed)")
	cmd.Flags().StringVar(&workerID, "worker", "", "Filter by worker id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 20, max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		status   string
		workerID string
		limit    int
		offset   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished tasks recorded by the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/history" + listQuery(status, workerID, limit, offset))
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			var tasks []model.Task
			if err := resp.decode(&tasks); err != nil {
				return err
			}
			printTasks(cmd, tasks)
			printMore(cmd, len(tasks), resp.Pagination)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (completed, failed)")
	cmd.Flags().StringVar(&workerID, "worker", "", "Filter by worker id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 20, max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}

func printTasks(cmd *cobra.Command, tasks []model.Task) {
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-12s  %-30s  %-36s  %s", "ID", "STATUS", "COMMAND", "WORKER", "CREATED")))
	for _, t := range tasks {
		worker := t.WorkerID
		if worker == "" {
			worker = "-"
		}
		fmt.Fprintf(out, "%-36s  %s  %-30s  %-36s  %s\n",
			t.ID, renderStatus(string(t.Status), 12), shorten(t.Command, 30), worker, ago(t.CreatedAt))
	}
}

func printTask(cmd *cobra.Command, t model.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task: %s\n", t.ID)
	fmt.Fprintf(out, "  Command:   %s\n", t.Command)
	fmt.Fprintf(out, "  Status:    %s\n", renderStatus(string(t.Status), 0))
	if t.WorkerID != "" {
		fmt.Fprintf(out, "  Worker:    %s\n", t.WorkerID)
	}
	fmt.Fprintf(out, "  Created:   %s (%s)\n", t.CreatedAt.Format("2006-01-02 15:04:05"), ago(t.CreatedAt))
	if t.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s (took %s)\n", t.CompletedAt.Format("2006-01-02 15:04:05"), t.Duration().Round(time.Millisecond))
	}
	if t.Result != "" {
		fmt.Fprintln(out, "  Result:")
		for _, line := range strings.Split(protocol.UnescapePayload(t.Result), "\n") {
			fmt.Fprintln(out, "    "+line)
		}
	}
}

func printMore(cmd *cobra.Command, shown int, pg *model.Pagination) {
	if pg != nil && pg.HasMore {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("\n(%d of %d shown)", shown, pg.Total)))
	}
}
