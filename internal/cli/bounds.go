package cli

import (
	"fmt"

	"prima/internal/logger"
	"prima/internal/service"

	"github.com/spf13/cobra"
)

func newBoundsCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bounds",
		Short: "Compute the amount_to_pay range for a principal and debtor credit score",
		Example: `  # Range for 1000 PGT owed by a C-rated debtor
  primactl bounds --amount 1000 --score C

  # Check a proposed amount_to_pay
  primactl bounds --amount 1000 --score 2 --amount-to-pay 850`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.WithComponent("bounds")

			amount, _ := cmd.Flags().GetString("amount")
			score, _ := cmd.Flags().GetString("score")
			amountToPay, _ := cmd.Flags().GetString("amount-to-pay")

			reader, err := open(cmd.Context())
			if err != nil {
				return err
			}
			res, err := service.NewBoundsService(reader).Verify(cmd.Context(), service.VerifyBoundsRequest{
				Amount:      amount,
				CreditScore: score,
				AmountToPay: amountToPay,
			})
			if err != nil {
				return err
			}
			log.Debug().Str("amount", res.Amount).Str("score", res.CreditScore).Msg("bounds computed")

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "amount:   %s (debtor %s)\n", res.Amount, res.CreditScore)
			fmt.Fprintf(out, "minimum:  %s\n", res.MinimumAmount)
			fmt.Fprintf(out, "maximum:  %s\n", res.MaximumAmount)
			if res.Within != nil {
				verdict := "within bounds"
				if !*res.Within {
					verdict = "OUT OF BOUNDS"
				}
				fmt.Fprintf(out, "to pay:   %s (%s)\n", res.AmountToPay, verdict)
			}
			return nil
		},
	}

	cmd.Flags().String("amount", "", "Invoice principal in PGT")
	cmd.Flags().String("score", "", "Debtor credit score, 0..5 or A..F")
	cmd.Flags().String("amount-to-pay", "", "Optional amount_to_pay to check against the range")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}
