package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"disputeflow/arbitration"
	"disputeflow/coordinator"
	"disputeflow/dispute"
)

func newArbitrationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "arbitration",
		Aliases: []string{"arb"},
		Short:   "Request, assign, decide or cancel arbitration on a case",
	}
	cmd.AddCommand(
		newArbRequestCmd(opts),
		newArbAssignCmd(opts),
		newArbDecideCmd(opts),
		newArbCancelCmd(opts),
	)
	return cmd
}

type arbitrationRef struct {
	CaseID        string `json:"case_id"`
	Version       int64  `json:"version"`
	ArbitrationID string `json:"arbitration_id"`
	Status        string `json:"status"`
	Cost          string `json:"cost"`
}

func printArbitrationRef(cmd *cobra.Command, a *app, c *dispute.Case, req *dispute.Arbitration) error {
	ref := arbitrationRef{
		CaseID:        c.ID,
		Version:       c.Version,
		ArbitrationID: req.ID,
		Status:        string(req.Status),
		Cost:          req.Cost.StringFixed(2),
	}
	if a.output == "json" {
		return printJSON(cmd, ref)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "arbitration %s status=%s cost=%s case version=%d\n",
		ref.ArbitrationID, ref.Status, ref.Cost, ref.Version)
	return nil
}

// runArbitration applies fn and prints the request it touched.
func runArbitration(cmd *cobra.Command, opts *rootOptions, arbitrationID string,
	fn func(ctx context.Context, co *coordinator.Coordinator) (*dispute.Case, error)) error {
	a, err := appFrom(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, _ caseStore) error {
		c, err := fn(ctx, co)
		if err != nil {
			return err
		}
		req, err := arbitration.Find(c, arbitrationID)
		if err != nil {
			return err
		}
		return printArbitrationRef(cmd, a, c, req)
	})
}

func newArbRequestCmd(opts *rootOptions) *cobra.Command {
	var (
		version  int64
		by       string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "request <case-id>",
		Short: "Open an arbitration request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			party, err := dispute.ParseParty(by)
			if err != nil {
				return err
			}
			prio, err := dispute.ParsePriority(priority)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			return withCoordinator(ctx, a, nil, func(co *coordinator.Coordinator, _ caseStore) error {
				c, req, err := co.RequestArbitration(ctx, args[0], version, party, prio)
				if err != nil {
					return err
				}
				return printArbitrationRef(cmd, a, c, req)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().StringVar(&by, "by", "", "requesting party (ISSUER, ACQUIRER)")
	cmd.Flags().StringVar(&priority, "priority", "", "URGENT, CRITICAL, HIGH, NORMAL or LOW (default NORMAL)")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newArbAssignCmd(opts *rootOptions) *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "assign <case-id> <arbitration-id>",
		Short: "Assign a pending request to an arbitrator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArbitration(cmd, opts, args[1], func(ctx context.Context, co *coordinator.Coordinator) (*dispute.Case, error) {
				return co.AssignArbitration(ctx, args[0], version, args[1])
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func newArbDecideCmd(opts *rootOptions) *cobra.Command {
	var (
		version   int64
		decision  string
		feeRule   string
		motives   string
		finalCost string
	)

	cmd := &cobra.Command{
		Use:   "decide <case-id> <arbitration-id>",
		Short: "Record the ruling on a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dispute.ParseDecision(decision)
			if err != nil {
				return err
			}
			fr, err := dispute.ParseFeeRule(feeRule)
			if err != nil {
				return err
			}
			ruling := arbitration.Ruling{Decision: d, FeeRule: fr, Motives: motives}
			if finalCost != "" {
				cost, err := decimal.NewFromString(finalCost)
				if err != nil {
					return &dispute.InvalidArgumentError{Field: "final_cost", Reason: "not a decimal: " + finalCost}
				}
				ruling.FinalCost = &cost
			}
			return runArbitration(cmd, opts, args[1], func(ctx context.Context, co *coordinator.Coordinator) (*dispute.Case, error) {
				return co.DecideArbitration(ctx, args[0], version, args[1], ruling)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().StringVar(&decision, "decision", "", "FAVORABLE_ISSUER or FAVORABLE_ACQUIRER")
	cmd.Flags().StringVar(&feeRule, "fee-rule", "", "LOSER, ISSUER, ACQUIRER or SPLIT")
	cmd.Flags().StringVar(&motives, "motives", "", "ruling rationale")
	cmd.Flags().StringVar(&finalCost, "final-cost", "", "override the estimated cost")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("fee-rule")
	return cmd
}

func newArbCancelCmd(opts *rootOptions) *cobra.Command {
	var (
		version int64
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "cancel <case-id> <arbitration-id>",
		Short: "Cancel an active request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArbitration(cmd, opts, args[1], func(ctx context.Context, co *coordinator.Coordinator) (*dispute.Case, error) {
				return co.CancelArbitration(ctx, args[0], version, args[1], reason)
			})
		},
	}
	cmd.Flags().Int64Var(&version, "version", coordinator.AnyVersion, "case version last seen (required); 0 reloads and retries on conflict")
	_ = cmd.MarkFlagRequired("version")
	cmd.Flags().StringVar(&reason, "reason", "", "why the request is withdrawn")
	return cmd
}
