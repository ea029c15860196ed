package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm-gate/pkg/attest"
	"github.com/Mindburn-Labs/helm-gate/pkg/config"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
)

func newVerifyCmd() *cobra.Command {
	var (
		orgID      string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one organization's ledger hash chain",
		Long:  "Recomputes every payload hash and checks chain links. Exits 1 when the chain is broken.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			res, err := ledger.NewWriter(store, ledger.WithLogger(logger)).Verify(cmd.Context(), orgID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeJSON(out, struct {
					OrgID string `json:"org_id"`
					ledger.Result
				}{orgID, res}); err != nil {
					return err
				}
			} else {
				printVerify(out, orgID, res)
			}
			if !res.Valid {
				return exitCode(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization whose chain to verify (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result as JSON")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func printVerify(w io.Writer, orgID string, res ledger.Result) {
	if res.Valid {
		_, _ = fmt.Fprintf(w, "Ledger verification PASSED\n")
		_, _ = fmt.Fprintf(w, "Org:   %s\nRows:  %d\nHead:  %s\n", orgID, res.Checked, res.Head)
		return
	}
	_, _ = fmt.Fprintf(w, "Ledger verification FAILED\n")
	_, _ = fmt.Fprintf(w, "Org:      %s\nReason:   %s\nPosition: %d\nEvent:    %s\n", orgID, res.Reason, res.Position, res.EventID)
}

func newAttestCmd() *cobra.Command {
	var (
		orgID string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Verify a ledger and publish a signed attestation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.AttestSink = out
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			signer, err := attestSigner(cfg)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			s, err := attest.OpenSink(cmd.Context(), cfg.AttestSink)
			if err != nil {
				return err
			}
			att, loc, err := attest.NewAttestor(store, signer, s, attest.WithLogger(logger)).Attest(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Attestation written to %s (valid=%t, rows=%d, key=%s)\n",
				loc, att.Statement.Valid, att.Statement.Rows, att.KeyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization to attest (required)")
	cmd.Flags().StringVar(&out, "out", "", "Override ATTEST_SINK (file://dir, s3://bucket/prefix, gs://bucket/prefix)")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
