package cli

import (
	"fmt"
	"net/url"

	"github.com/me/wdist/pkg/model"
	"github.com/spf13/cobra"
)

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workers",
		Aliases: []string{"worker"},
		Short:   "Inspect and manage workers",
	}
	cmd.AddCommand(
		newWorkersListCmd(),
		newWorkersAddCmd(),
		newWorkersRemoveCmd(),
		newWorkersStatusCmd(),
		newWorkersTasksCmd(),
	)
	return cmd
}

func newWorkersListCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/workers/"
			if name != "" {
				path += "?name=" + url.QueryEscape(name)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list workers: %w", err)
			}
			var workers []model.Worker
			if err := resp.decode(&workers); err != nil {
				return err
			}
			printWorkers(cmd, workers)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only show the worker with this name")
	return cmd
}

func printWorkers(cmd *cobra.Command, workers []model.Worker) {
	out := cmd.OutOrStdout()
	if len(workers) == 0 {
		fmt.Fprintln(out, "No workers registered.")
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-36s  %-20s  %-12s  %-8s  %s", "ID", "NAME", "STATUS", "PID", "LAST SEEN")))
	for _, w := range workers {
		fmt.Fprintf(out, "%-36s  %-20s  %s  %-8d  %s\n",
			w.ID, shorten(w.Name, 20), renderStatus(string(w.Status), 12), w.ProcessID, ago(w.LastSeen))
	}
}

func newWorkersAddCmd() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a worker record without a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/workers/", map[string]any{
				"name":       args[0],
				"process_id": pid,
			})
			if err != nil {
				return fmt.Errorf("add worker: %w", err)
			}
			var w model.Worker
			if err := resp.decode(&w); err != nil {
				return err
			}
			printStyled(cmd.OutOrStdout(), successStyle, "Worker added: %s (%s)", w.ID, w.Name)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "Process id to record")
	return cmd
}

func newWorkersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <worker_id>",
		Aliases: []string{"rm"},
		Short:   "Remove a worker and close its connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/workers/" + url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("remove worker: %w", err)
			}
			printStyled(cmd.OutOrStdout(), successStyle, "Worker removed: %s", args[0])
			return nil
		},
	}
}

func newWorkersStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <worker_id> <connected|idle|busy|disconnected>",
		Short: "Change a worker's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put("/api/v1/workers/"+url.PathEscape(args[0])+"/status", map[string]string{
				"status": args[1],
			})
			if err != nil {
				return fmt.Errorf("update worker status: %w", err)
			}
			var w model.Worker
			if err := resp.decode(&w); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Worker %s is now %s\n", w.ID, renderStatus(string(w.Status), 0))
			return nil
		},
	}
}

func newWorkersTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <worker_id>",
		Short: "List the tasks assigned to a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/workers/" + url.PathEscape(args[0]) + "/tasks")
			if err != nil {
				return fmt.Errorf("worker tasks: %w", err)
			}
			var tasks []model.Task
			if err := resp.decode(&tasks); err != nil {
				return err
			}
			printTasks(cmd, tasks)
			return nil
		},
	}
}
