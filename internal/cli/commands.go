package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/user/ptywrap/internal/config"
	"github.com/user/ptywrap/internal/registry"
	"github.com/user/ptywrap/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		outputPath string
		inputPath  string
		marker     string
		noCleanup  bool
	)
	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command in a PTY in the foreground",
		Long: `Run executes a command inside a PTY and bridges its I/O to files in the
foreground of this invocation. Without -o/-i a session directory is
created and its paths are printed; with both flags the given files are
used as-is and never cleaned up.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if !cmd.Flags().Changed("marker") {
				marker = app.cfg.ExitMarker
			}
			return app.mgr.Run(cmd.Context(), session.RunOptions{
				Command:    args,
				OutputPath: outputPath,
				InputPath:  inputPath,
				Marker:     marker,
				NoCleanup:  noCleanup,
				Announce:   cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "file to append program output to")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "existing FIFO to read input from")
	cmd.Flags().StringVarP(&marker, "marker", "m", config.DefaultExitMarker, "marker written to output when the program exits")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "keep session files after the program exits")
	return cmd
}

func newStartCmd() *cobra.Command {
	var noCleanup bool
	cmd := &cobra.Command{
		Use:   "start [flags] -- COMMAND [ARGS...]",
		Short: "Start a command in a new detached PTY session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			cleanup := registry.CleanupImmediate
			if noCleanup {
				cleanup = registry.CleanupDeferred
			}
			sess, err := app.mgr.Start(cmd.Context(), args, cleanup)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "keep session files after the process exits")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read ID",
		Short: "Print output produced since the last read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			data, err := app.mgr.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newSendCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send ID TEXT...",
		Short: "Send a line of input to a session",
		Long: `Send delivers TEXT followed by a newline to the session's terminal, as
if typed. It acknowledges once the bytes are handed to the OS; whether
the program reads them is up to the program. Poll "read" for results.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			text := strings.Join(args[1:], " ")
			if err := app.mgr.Send(cmd.Context(), args[0], text, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "delivery timeout (default from config)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Print a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			sess, err := app.mgr.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatStatus(sess))
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop ID",
		Short: "Terminate a session and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.mgr.Stop(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			sessions, err := app.mgr.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, shellquote.Join(s.Command...), formatStatus(s))
			}
			return nil
		},
	}
}

// newRelayCmd is the hidden re-exec target "start" spawns; it drives one
// session's bridge to completion.
func newRelayCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:    "relay",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			return app.mgr.Relay(cmd.Context(), id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "session id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func formatStatus(s *registry.Session) string {
	switch s.Status {
	case registry.StatusExited:
		return fmt.Sprintf("exited(%d)", s.ExitCode)
	case registry.StatusFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return string(s.Status)
	}
}
