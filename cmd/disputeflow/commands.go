package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"disputeflow/coordinator"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/logging"
	"disputeflow/metrics"
	"disputeflow/migrations"
	"disputeflow/sweep"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if a.cfg.Store.Driver != "postgres" {
				return fmt.Errorf("migrate needs store.driver=postgres, got %q", a.cfg.Store.Driver)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			pool, err := db.NewPool(ctx, a.cfg.Store.PostgresDSN, a.cfg.Store.MaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := migrations.Apply(ctx, pool)
			if err != nil {
				return err
			}
			a.log.Info("migrations applied", logging.Int("count", len(applied)))
			if a.output == "json" {
				if applied == nil {
					applied = []string{}
				}
				return printJSON(cmd, map[string]any{"applied": applied})
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newOpenCmd(opts *rootOptions) *cobra.Command {
	var disputeID, amount, reason string

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a case for a dispute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(strings.TrimSpace(amount))
			if err != nil {
				return &dispute.InvalidArgumentError{Field: "disputed_amount", Reason: "not a decimal: " + amount}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, _ caseStore) error {
				c, err := co.OpenCase(ctx, coordinator.OpenCaseParams{
					DisputeID:      disputeID,
					DisputedAmount: amt,
					ContestReason:  reason,
				})
				if err != nil {
					return err
				}
				return printCaseRef(cmd, a, c)
			})
		},
	}
	cmd.Flags().StringVar(&disputeID, "dispute-id", "", "identifier of the dispute the case belongs to")
	cmd.Flags().StringVar(&amount, "amount", "", "disputed amount, e.g. 1250.40")
	cmd.Flags().StringVar(&reason, "reason", "", "contest reason code")
	_ = cmd.MarkFlagRequired("dispute-id")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newAdvanceCmd(opts *rootOptions) *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "advance <case-id> <phase>",
		Short: "Move a case to its next phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			target, err := dispute.ParsePhase(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, _ caseStore) error {
				c, err := co.Advance(ctx, args[0], version, target)
				if err != nil {
					return err
				}
				return printCaseRef(cmd, a, c)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newExtendCmd(opts *rootOptions) *cobra.Command {
	var (
		version int64
		days    int
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "extend <case-id>",
		Short: "Extend the deadline of the current phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, _ caseStore) error {
				c, err := co.ExtendDeadline(ctx, args[0], version, days, reason)
				if err != nil {
					return err
				}
				return printCaseRef(cmd, a, c)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().IntVar(&days, "days", 0, "extra calendar days")
	cmd.Flags().StringVar(&reason, "reason", "", "why the deadline moves")
	_ = cmd.MarkFlagRequired("days")
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <case-id>",
		Short: "Show the derived status and audit log of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, store caseStore) error {
				st, err := co.Status(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := store.Events(ctx, args[0])
				if err != nil {
					return err
				}
				view := newInspectView(st, events)
				if a.output == "json" {
					return printJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), view.text())
				return nil
			})
		},
	}
}

func newSweepCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue deadline windows on an interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			lease, closeLease := newLease(a.cfg)
			defer closeLease()

			return withCoordinator(ctx, a, m, func(co *coordinator.Coordinator, store caseStore) error {
				runner := sweep.NewRunner(co, store, lease, sweep.Config{
					Interval:    a.cfg.Sweep.Interval,
					BatchSize:   a.cfg.Sweep.BatchSize,
					Concurrency: a.cfg.Sweep.Concurrency,
				}, a.log, m)

				if once {
					res, err := runner.Tick(ctx)
					if err != nil {
						return err
					}
					if a.output == "json" {
						return printJSON(cmd, res)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d expired=%d conflicts=%d failed=%d skipped=%t\n",
						res.Scanned, res.Expired, res.Conflicts, res.Failed, res.Skipped)
					return nil
				}

				srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.log.Info("metrics listening", logging.String("addr", srv.Addr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server", logging.Err(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()

				return runner.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type caseRef struct {
	CaseID  string `json:"case_id"`
	Phase   string `json:"phase"`
	Version int64  `json:"version"`
}

func printCaseRef(cmd *cobra.Command, a *app, c *dispute.Case) error {
	ref := caseRef{CaseID: c.ID, Phase: string(c.Phase), Version: c.Version}
	if a.output == "json" {
		return printJSON(cmd, ref)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "case %s phase=%s version=%s\n", ref.CaseID, ref.Phase, strconv.FormatInt(ref.Version, 10))
	return nil
}
