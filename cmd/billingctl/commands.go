package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/reconcile"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
)

type Renewer interface {
	Renew(ctx context.Context, id string) (*billing.RenewResult, error)
	RenewDue(ctx context.Context, now time.Time, limit int) (*billing.BatchSummary, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, externalID string) (*reconcile.Result, error)
}

type services struct {
	renewer    Renewer
	reconciler Reconciler
}

// loader builds the services and returns a func that releases them.
type loader func(ctx context.Context) (*services, func(), error)

func newRootCmd(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			cmd.SetContext(logctx.WithTraceID(cmd.Context(), tool.GenerateUUIDV7()))
		},
	}
	root.AddCommand(newRenewCmd(load), newRenewDueCmd(load), newReconcileCmd(load))
	return root
}

func withServices(cmd *cobra.Command, load loader, fn func(*services) (any, error)) error {
	svc, closeFn, err := load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer closeFn()
	out, err := fn(svc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newRenewCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "renew <subscription-id>",
		Short: "Charge one subscription for its next period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, load, func(s *services) (any, error) {
				return s.renewer.Renew(cmd.Context(), args[0])
			})
		},
	}
}

func newRenewDueCmd(load loader) *cobra.Command {
	var limit int
	var at string
	cmd := &cobra.Command{
		Use:   "renew-due",
		Short: "Renew every subscription whose next billing date has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t
			}
			return withServices(cmd, load, func(s *services) (any, error) {
				return s.renewer.RenewDue(cmd.Context(), now, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum subscriptions to renew (0 uses the configured batch size)")
	cmd.Flags().StringVar(&at, "at", "", "treat this RFC3339 time as now")
	return cmd
}

func newReconcileCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <external-subscription-id>",
		Short: "Pull a subscription from the gateway and apply its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, load, func(s *services) (any, error) {
				return s.reconciler.Reconcile(cmd.Context(), args[0])
			})
		},
	}
}
