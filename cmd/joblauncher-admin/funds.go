package main

import (
	"database/sql"
	"errors"

	"github.com/spf13/cobra"

	"github.com/target/job-launcher/internal/data"
	"github.com/target/job-launcher/internal/domain/model"
	"github.com/target/job-launcher/internal/service"
)

func newPaymentService(cc *commandContext, db *sql.DB) (*service.PaymentService, error) {
	return service.NewPaymentService(service.PaymentServiceOptions{
		Payments: data.NewPaymentRepo(db, data.RepoConfig{}),
		Logger:   cc.Logger,
	})
}

type depositOptions struct {
	UserID      int64
	Amount      string
	Source      string
	AllowRemote bool
}

func depositCmd(cc *commandContext) *cobra.Command {
	var opts depositOptions
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit a user's balance with a whole-token amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.UserID <= 0 {
				return errors.New("--user must be a positive id")
			}
			var source model.PaymentSource
			if err := source.UnmarshalText([]byte(opts.Source)); err != nil {
				return err
			}
			if err := guardRemoteHost(cc, opts.AllowRemote, "record a deposit"); err != nil {
				return err
			}

			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			db, err := connectDB(ctx, cc)
			if err != nil {
				return err
			}
			defer closeDB(cc, db)

			svc, err := newPaymentService(cc, db)
			if err != nil {
				return err
			}
			p, err := svc.Deposit(ctx, opts.UserID, opts.Amount, source)
			if err != nil {
				return err
			}
			if cc.JSON {
				return printJSON(cc.Out, p)
			}
			renderPayments(cc.Out, []*model.Payment{p})
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id to credit")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount in whole tokens, e.g. 12.5")
	cmd.Flags().StringVar(&opts.Source, "source", string(model.PaymentSourceFiat), "payment source (FIAT, CRYPTO)")
	cmd.Flags().BoolVar(&opts.AllowRemote, "allow-remote", false, "allow writing to a non-local database")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func balanceCmd(cc *commandContext) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a user's balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			db, err := connectDB(ctx, cc)
			if err != nil {
				return err
			}
			defer closeDB(cc, db)

			svc, err := newPaymentService(cc, db)
			if err != nil {
				return err
			}
			b, err := svc.Balance(ctx, userID)
			if err != nil {
				return err
			}
			if cc.JSON {
				return printJSON(cc.Out, b)
			}
			return writef(cc.Out, "user %d: %s tokens (%s)\n", b.UserID, b.Decimal, b.Amount)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func paymentsCmd(cc *commandContext) *cobra.Command {
	var (
		userID int64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "List a user's most recent ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := cc.runContext(cmd.Context())
			defer cancel()

			db, err := connectDB(ctx, cc)
			if err != nil {
				return err
			}
			defer closeDB(cc, db)

			svc, err := newPaymentService(cc, db)
			if err != nil {
				return err
			}
			payments, err := svc.History(ctx, userID, limit)
			if err != nil {
				return err
			}
			if cc.JSON {
				return printJSON(cc.Out, payments)
			}
			renderPayments(cc.Out, payments)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
