package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"stationbook/internal/reconcile"
	"stationbook/shared/audit"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp loads config, wires the services and syncs inventory before fn runs.
func withApp(flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	logger := newLogger(flags)
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, &logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := a.syncInventory(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func newReconcileCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				report := a.reconciler.RunNow(ctx)
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func newFixCmd(flags *globalFlags) *cobra.Command {
	var venueID string

	fix := &cobra.Command{
		Use:   "fix",
		Short: "Repair reservations left in a wrong state",
	}
	fix.PersistentFlags().StringVar(&venueID, "venue", "", "limit the repair to one venue")

	run := func(repair func(r *reconcile.Reconciler, ctx context.Context, venueID string) (reconcile.FixReport, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				report, err := repair(a.reconciler, ctx, venueID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		}
	}

	fix.AddCommand(&cobra.Command{
		Use:   "stale-activations",
		Short: "Move Active reservations without session times back to Booked",
		RunE:  run((*reconcile.Reconciler).RevertStaleActivations),
	})
	fix.AddCommand(&cobra.Command{
		Use:   "premature-completions",
		Short: "Reopen sessions that were completed before their end",
		RunE:  run((*reconcile.Reconciler).RevertPrematureCompletions),
	})
	return fix
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		month   string
		cleanup bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit workbook for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := audit.PreviousMonth(time.Now())
			if month != "" {
				parsed, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("--month must be YYYY-MM: %w", err)
				}
				at = parsed
			}

			return withApp(flags, func(ctx context.Context, a *app) error {
				svc := newAuditService(a.cfg, a, a.logger)
				path, err := svc.Export(ctx, at)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)

				if cleanup {
					deleted, err := svc.Cleanup(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %d old reservations\n", deleted)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to export as YYYY-MM (default: previous month)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "also delete finished reservations past retention")
	return cmd
}
