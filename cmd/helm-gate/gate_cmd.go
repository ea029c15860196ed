package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-gate/pkg/auth"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/config"
	"github.com/Mindburn-Labs/helm-gate/pkg/gate"
)

func newClassifyCmd() *cobra.Command {
	var ruleVersion string
	cmd := &cobra.Command{
		Use:   "classify <action> [target_type]",
		Short: "Show category, severity and impact for an action",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := classify.Default()
			if ruleVersion != "" {
				var err error
				if c, err = classify.At(ruleVersion); err != nil {
					return err
				}
			}
			var target string
			if len(args) == 2 {
				target = args[1]
			}
			return writeJSON(cmd.OutOrStdout(), c.Evaluate(args[0], target))
		},
	}
	cmd.Flags().StringVar(&ruleVersion, "version", "", "Rule table version (default: current)")
	return cmd
}

func newReadinessCmd() *cobra.Command {
	var (
		scope gate.Scope
		gc    gate.GateContext
	)
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Fetch and compose readiness for a scope",
		Long:  "Queries the configured readiness source and prints the gate decision. Exits 1 when the decision is NO_GO.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			g := gate.New(signalSource(cfg), gate.WithLogger(logger))

			gc.Action = "READINESS_PROBE"
			d, err := g.Evaluate(cmd.Context(), scope, gc)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
			if d.Denied() != nil {
				return exitCode(1)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&scope.OrgID, "org", "", "Organization (required)")
	f.StringVar(&scope.SiteID, "site", "", "Site")
	f.StringVar(&gc.ShiftID, "shift", "", "Shift id")
	f.StringVar(&gc.Date, "date", "", "Shift date (YYYY-MM-DD)")
	f.StringVar(&gc.ShiftCode, "shift-code", "", "Shift code")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		actor auth.Actor
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			v := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
			if v == nil {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := v.Sign(actor, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&actor.UserID, "user", "", "Subject user id (required)")
	f.StringVar(&actor.OrgID, "org", "", "Organization (required)")
	f.StringVar(&actor.SiteID, "site", "", "Site")
	f.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
