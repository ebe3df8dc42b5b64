package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/job-launcher/internal/data"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/service"
)

type jobsOptions struct {
	UserID int64
	Status string
	Limit  int
	Offset int
}

func (o jobsOptions) listOptions() (model.JobListOptions, error) {
	opts := model.JobListOptions{UserID: o.UserID, Limit: o.Limit, Offset: o.Offset}
	if s := strings.TrimSpace(o.Status); s != "" {
		status := model.JobStatus(strings.ToUpper(s))
		if !status.Valid() {
			return opts, fmt.Errorf("invalid status %q (valid: PENDING, PAID, LAUNCHED)", o.Status)
		}
		opts.Status = &status
	}
	return opts, nil
}

func jobsCmd(cc *commandContext) *cobra.Command {
	var opts jobsOptions
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List a user's jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listOpts, err := opts.listOptions()
			if err != nil {
				return err
			}

			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			db, err := connectDB(ctx, cc)
			if err != nil {
				return err
			}
			defer closeDB(cc, db)

			jobs, err := data.NewJobRepo(db, data.RepoConfig{}).ListByUser(ctx, listOpts)
			if err != nil {
				return err
			}
			if cc.JSON {
				return printJSON(cc.Out, jobs)
			}
			renderJobs(cc.Out, jobs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "status filter (PENDING, PAID, LAUNCHED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum jobs to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "jobs to skip")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func launchCmd(cc *commandContext) *cobra.Command {
	var jobID int64
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Create the escrow for a PAID job and notify its oracle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jobID <= 0 {
				return errors.New("--job must be a positive id")
			}

			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			rt, err := connectRuntime(ctx, cc)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.close(); cerr != nil {
					cc.Logger.Warn("close runtime failed", "error", cerr)
				}
			}()

			job, err := rt.services.JobRepo.GetByID(ctx, jobID)
			if err != nil {
				return fmt.Errorf("load job %d: %w", jobID, err)
			}
			launched, err := rt.services.Launcher.Launch(ctx, job)
			if err != nil {
				return err
			}
			if cc.JSON {
				return printJSON(cc.Out, launched)
			}
			renderJobs(cc.Out, []*model.Job{launched})
			return nil
		},
	}
	cmd.Flags().Int64Var(&jobID, "job", 0, "job id")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

type resolveOptions struct {
	JobID    int64
	Escrow   string
	NoEscrow bool
}

func (o resolveOptions) escrowAddress() (string, error) {
	if o.JobID <= 0 {
		return "", errors.New("--job must be a positive id")
	}
	escrow := strings.TrimSpace(o.Escrow)
	switch {
	case o.NoEscrow && escrow != "":
		return "", errors.New("--escrow and --no-escrow are mutually exclusive")
	case !o.NoEscrow && escrow == "":
		return "", errors.New("one of --escrow or --no-escrow is required")
	}
	return escrow, nil
}

func resolveCmd(cc *commandContext) *cobra.Command {
	var opts resolveOptions
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Settle a launch held for review after checking the chain",
		Long: "A PAID job is held when its escrow request was sent but the outcome was never recorded.\n" +
			"Pass --escrow with the address found on chain to finish the launch on the next pass,\n" +
			"or --no-escrow when no escrow exists so the job is launched from scratch.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			escrow, err := opts.escrowAddress()
			if err != nil {
				return err
			}

			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			rt, err := connectRuntime(ctx, cc)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.close(); cerr != nil {
					cc.Logger.Warn("close runtime failed", "error", cerr)
				}
			}()

			job, err := rt.services.Launcher.ResolveHeld(ctx, opts.JobID, escrow)
			if err != nil {
				return fmt.Errorf("resolve job %d: %w", opts.JobID, err)
			}
			if cc.JSON {
				return printJSON(cc.Out, job)
			}
			renderJobs(cc.Out, []*model.Job{job})
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.JobID, "job", 0, "job id")
	cmd.Flags().StringVar(&opts.Escrow, "escrow", "", "escrow address found on chain")
	cmd.Flags().BoolVar(&opts.NoEscrow, "no-escrow", false, "no escrow exists; reopen the job")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func reconcileCmd(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciler pass over due PAID jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			rt, err := connectRuntime(ctx, cc)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.close(); cerr != nil {
					cc.Logger.Warn("close runtime failed", "error", cerr)
				}
			}()

			rec, err := service.NewReconciler(service.ReconcilerOptions{
				Jobs:     rt.services.JobRepo,
				Launcher: rt.services.Launcher,
				Config:   cc.Config.Reconciler,
				Logger:   cc.Logger,
				Metrics:  rt.services.Metrics,
			})
			if err != nil {
				return err
			}
			res, tickErr := rec.Tick(ctx)
			if cc.JSON {
				if err := printJSON(cc.Out, res); err != nil {
					return err
				}
			} else if err := writef(cc.Out, "due=%d launched=%d failed=%d stale_pending=%d held=%d\n",
				res.Due, res.Launched, res.Failed, res.StalePending, res.Held); err != nil {
				return err
			}
			return tickErr
		},
	}
}
