package cli

import (
	"log/slog"
	"os"

	"github.com/me/wdist/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagServer      string
	flagCoordinator string
	flagDebug       bool
	flagLogLevel    string
	flagLogFormat   string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default API URL, checking WDIST_SERVER first.
func defaultServer() string {
	if s := os.Getenv("WDIST_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8081"
}

// defaultCoordinator returns the default TCP address, checking
// WDIST_COORDINATOR first.
func defaultCoordinator() string {
	if s := os.Getenv("WDIST_COORDINATOR"); s != "" {
		return s
	}
	return "localhost:8080"
}

// NewRootCmd creates the root cobra command for the wdist CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wdist",
		Short: "wdist: administer a worker distribution coordinator",
		Long:  "wdist manages workers, queues commands and inspects a running coordinator.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Coordinator HTTP API URL (or WDIST_SERVER env)")
	root.PersistentFlags().StringVar(&flagCoordinator, "coordinator", defaultCoordinator(), "Coordinator TCP address for exec (or WDIST_COORDINATOR env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newExecCmd(),
		newWorkersCmd(),
		newSubmitCmd(),
		newTasksCmd(),
		newHistoryCmd(),
		newServiceCmd(),
	)

	return root
}
