package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/pkg/model"
	"github.com/spf13/cobra"
)

// ErrRejected is returned when the coordinator answers ADMIN_EXECUTE with
// an ERROR frame.
var ErrRejected = errors.New("coordinator rejected the command")

// ErrTaskFailed is returned by the exec command when the result payload
// marks the task as failed.
var ErrTaskFailed = errors.New("task failed")

func newExecCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run a command on the first idle worker and wait for its output",
		Long: "exec sends the command to the coordinator over its TCP port, waits for\n" +
			"a worker to run it and prints the result. It exits non-zero when the\n" +
			"coordinator rejects the command or the command fails.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			command := strings.Join(args, " ")
			result, err := Exec(ctx, flagCoordinator, command, func(taskID string) {
				logger.Info("task queued", "task_id", taskID)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			if strings.HasPrefix(result, model.ResultErrorPrefix) {
				return ErrTaskFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the result (0 waits forever)")
	return cmd
}

// Exec submits command through the coordinator's TCP port and blocks until
// the result arrives, the connection drops or ctx is done. onQueued, if not
// nil, is called with the task id once the command is accepted.
func Exec(ctx context.Context, addr, command string, onQueued func(taskID string)) (string, error) {
	if strings.ContainsAny(command, "\r\n") {
		return "", fmt.Errorf("exec: command must be a single line")
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connect to coordinator %s: %w", addr, err)
	}
	defer nc.Close()

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()

	if _, err := nc.Write([]byte(protocol.EncodeAdminExecute(command) + "\n")); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxFrameSize+1)
	for scanner.Scan() {
		frame, err := protocol.Parse(scanner.Text())
		if err != nil {
			continue
		}
		switch frame.Type {
		case protocol.TypeTaskQueued:
			id, err := protocol.TaskQueued(frame)
			if err == nil && onQueued != nil {
				onQueued(id)
			}
		case protocol.TypeError:
			reason, _ := protocol.Error(frame)
			return "", fmt.Errorf("%w: %s", ErrRejected, reason)
		case protocol.TypeResult:
			return protocol.Reply(frame)
		}
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("waiting for result: %w", ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read result: %w", err)
	}
	return "", errors.New("connection closed before a result arrived")
}
