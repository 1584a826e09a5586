package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"prima/internal/ledger"
	"prima/internal/logger"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

// Opener connects to the ledger. It is called once per command that needs it.
type Opener func(ctx context.Context) (ledger.Reader, error)

// NewRootCommand builds primactl. Every subcommand reads the ledger through open.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "primactl",
		Short: "Operator tools for the Prima invoice ledger",
		Long: `primactl queries the Prima contracts directly, without the API server.

It uses the same configuration as the server (configs/.env and PRIMA_* variables)
for the node URL, chain id and contract addresses.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "Print results as JSON")
	root.PersistentFlags().Int("concurrency", 8, "Invoices fetched in parallel when listing")

	root.AddCommand(
		newBoundsCommand(open),
		newInvoicesCommand(open),
		newActionsCommand(open),
	)
	return root
}

// Execute runs primactl and exits non-zero on failure.
func Execute(open Opener) {
	log := logger.WithComponent("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand(open).ExecuteContext(ctx); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}
