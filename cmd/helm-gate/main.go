// Command helm-gate runs the governance gate server and its ledger tooling.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// exitCode lets a command choose the process exit status. Exit codes:
//
//	0 = success
//	1 = check failed (invalid chain, NO_GO readiness)
//	2 = usage or runtime error
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 2
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "helm-gate",
		Short:         "Governance legitimacy gate and hash-chained audit ledger",
		Long:          "Blocks gated mutations when legal or operational readiness is NO_GO and records every decision in a tamper-evident ledger.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newVerifyCmd(),
		newAttestCmd(),
		newClassifyCmd(),
		newReadinessCmd(),
		newTokenCmd(),
	)
	return root
}
