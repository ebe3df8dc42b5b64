package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/bootstrap"
)

const defaultCommandTimeout = 5 * time.Minute

// commandContext is shared by every subcommand once the root pre-run has loaded config.
type commandContext struct {
	Logger  *slog.Logger
	Config  config.AppConfig
	Out     io.Writer
	JSON    bool
	Timeout time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		_ = writef(os.Stderr, "error: %v\n", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	cc := &commandContext{Out: out}

	root := &cobra.Command{
		Use:           "joblauncher-admin",
		Short:         "Operator tooling for the job launcher",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return err
			}
			cc.Config = cfg
			cc.Logger = bootstrap.InitLogger(cfg.IsDev)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&cc.JSON, "json", false, "output JSON")
	root.PersistentFlags().DurationVar(&cc.Timeout, "timeout", defaultCommandTimeout, "overall command timeout")

	root.AddCommand(
		migrateCmd(cc),
		depositCmd(cc),
		balanceCmd(cc),
		paymentsCmd(cc),
		jobsCmd(cc),
		launchCmd(cc),
		resolveCmd(cc),
		reconcileCmd(cc),
		feeCmd(cc),
		signCmd(cc),
		verifyCmd(cc),
	)
	return root
}

// runContext bounds a command by --timeout and cancels it on SIGINT/SIGTERM.
func (cc *commandContext) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	timeout := cc.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func migrateCmd(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			db, err := connectDB(ctx, cc)
			if err != nil {
				return err
			}
			defer closeDB(cc, db)

			cc.Logger.Info("running database migrations")
			if err := bootstrap.RunMigrations(ctx, db, cc.Logger); err != nil {
				return err
			}
			return writef(cc.Out, "migrations completed\n")
		},
	}
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
