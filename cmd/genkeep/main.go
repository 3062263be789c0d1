package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	progressFlags := &ProgressFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)
	genkeepCommand := command{global: globalFlags}

	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createProgressCommand(genkeepCommand, progressFlags),
		createStopCommand(genkeepCommand),
		createStatusCommand(genkeepCommand),
		createExcludeCommand(genkeepCommand),
		createCheckCommand(genkeepCommand),
		createServiceCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
// shared by the client subcommands.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "genkeep",
		Short: "Keep a long-running background task alive",
		Long: `Genkeep holds wake leases and a progress notification while a long-running
task is in progress, and a watchdog brings the task back if the process dies.

Examples:
  genkeep serve --config=genkeep.toml          # Start daemon
  genkeep progress --title="Export" --progress=40
  genkeep status
  genkeep stop --api-url=http://remote:8655/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default derived from --config, else http://127.0.0.1:8655/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the genkeep daemon",
		Long: `Start the genkeep daemon. Without a config file the built-in defaults are used.
The log level and the watchdog interval are reloaded when the file changes.

Examples:
  genkeep serve
  genkeep serve genkeep.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServeCommand(serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.NoWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func createProgressCommand(genkeepCommand command, flags *ProgressFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Start the task or report its progress",
		Long: `Record that the task should run and show its progress. Progress 0 (or no
--progress) starts the task; any other value updates it in place, starting it
first when idle.

Examples:
  genkeep progress
  genkeep progress --title="Export" --body="chunk 3 of 8" --progress=37`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.TitleSet = cmd.Flags().Changed("title")
			flags.BodySet = cmd.Flags().Changed("body")
			flags.ProgressSet = cmd.Flags().Changed("progress")
			return genkeepCommand.Progress(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Title, "title", "", "notification title")
	cmd.Flags().StringVar(&flags.Body, "body", "", "notification body")
	cmd.Flags().IntVar(&flags.Progress, "progress", 0, "progress percent, clamped to 0..100")
	return cmd
}

func createStopCommand(genkeepCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the task and cancel its watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return genkeepCommand.Stop(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createStatusCommand(genkeepCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task, lease and watchdog status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return genkeepCommand.Status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createExcludeCommand(genkeepCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "exclude",
		Short: "Ask the host to exempt the daemon from power saving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return genkeepCommand.Exclude(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createCheckCommand(genkeepCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one watchdog pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return genkeepCommand.Check(cmd.Context(), cmd.OutOrStdout())
		},
	}
}
