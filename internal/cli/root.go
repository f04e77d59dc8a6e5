package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/ptywrap/internal/config"
	"github.com/user/ptywrap/internal/pty"
	"github.com/user/ptywrap/internal/registry"
	"github.com/user/ptywrap/internal/session"
)

// Stable exit codes, one per error kind the operations can surface.
const (
	ExitOK            = 0
	ExitInternal      = 1
	ExitNotFound      = 2
	ExitTimeout       = 3
	ExitSpawn         = 4
	ExitProcessExited = 5
)

// ExitCode maps an operation error to the CLI's exit code.
func ExitCode(err error) int {
	var spawnErr *pty.SpawnError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, session.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, session.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, session.ErrProcessExited):
		return ExitProcessExited
	case errors.As(err, &spawnErr):
		return ExitSpawn
	default:
		return ExitInternal
	}
}

// app bundles the resolved config, the open registry, and the manager
// for one command invocation.
type app struct {
	cfg *config.Config
	reg *registry.Registry
	mgr *session.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	reg, err := registry.Open(ctx, cfg.DBPath())
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, reg: reg, mgr: session.NewManager(cfg, reg)}, nil
}

func (a *app) close() {
	_ = a.reg.Close()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ptywrap",
		Short: "Run interactive programs with file-based I/O",
		Long: `ptywrap runs a program inside a pseudo-terminal, so it behaves exactly
as if a human were typing in a terminal, while all I/O goes through
files: output is appended to a growing file and input is read from a
named pipe. Sessions started with "start" are addressable by id from
any later invocation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newStartCmd(),
		newReadCmd(),
		newSendCmd(),
		newStatusCmd(),
		newStopCmd(),
		newListCmd(),
		newRelayCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}
