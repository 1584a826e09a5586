package cli

import (
	"fmt"
	"math/big"
	"text/tabwriter"
	"time"

	"prima/internal/model"
	"prima/internal/service"

	"github.com/spf13/cobra"
)

type invoiceRow struct {
	TokenID     string           `json:"token_id"`
	ExternalID  string           `json:"id"`
	Status      string           `json:"status"`
	Amount      string           `json:"amount"`
	AmountToPay string           `json:"amount_to_pay"`
	DueDate     string           `json:"due_date"`
	Debtor      string           `json:"debtor"`
	Creditor    string           `json:"creditor"`
	Actions     []service.Action `json:"actions"`
}

func toRow(inv model.Invoice, actor model.Identity) invoiceRow {
	return invoiceRow{
		TokenID:     inv.TokenID.String(),
		ExternalID:  inv.ExternalID,
		Status:      inv.Status.String(),
		Amount:      model.FormatAmount(inv.Amount),
		AmountToPay: model.FormatAmount(inv.AmountToPay),
		DueDate:     inv.DueDate.UTC().Format(time.DateOnly),
		Debtor:      inv.Debtor.Identity.String() + " (" + inv.Debtor.CreditTier.String() + ")",
		Creditor:    inv.Creditor.Identity.String() + " (" + inv.Creditor.CreditTier.String() + ")",
		Actions:     service.ActionsAvailable(inv, actor).List(),
	}
}

func newInvoicesCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "List the invoices an address sees in one role",
		Example: `  primactl invoices --role investor --address 0x3333333333333333333333333333333333333333
  primactl invoices --role marketplace --address 0x3333333333333333333333333333333333333333 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rawRole, _ := cmd.Flags().GetString("role")
			rawAddress, _ := cmd.Flags().GetString("address")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			role, err := model.ParseRole(rawRole)
			if err != nil {
				return err
			}
			actor, err := model.ParseIdentity(rawAddress)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				return fmt.Errorf("concurrency must be positive")
			}

			reader, err := open(cmd.Context())
			if err != nil {
				return err
			}
			invoices, err := service.NewRegistryService(reader, concurrency).FetchForRole(cmd.Context(), role, actor)
			if err != nil {
				return err
			}

			rows := make([]invoiceRow, 0, len(invoices))
			for _, inv := range invoices {
				rows = append(rows, toRow(inv, actor))
			}
			if jsonOutput(cmd) {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s invoices for %s\n", role, actor)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tID\tSTATUS\tAMOUNT\tTO PAY\tDUE\tACTIONS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%v\n", r.TokenID, r.ExternalID, r.Status, r.Amount, r.AmountToPay, r.DueDate, r.Actions)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("role", "", "creditor, debtor, investor or marketplace")
	cmd.Flags().String("address", "", "Address whose view to list")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newActionsCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions <token-id>",
		Short: "Show one invoice and what an address may do with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawAddress, _ := cmd.Flags().GetString("address")
			actor, err := model.ParseIdentity(rawAddress)
			if err != nil {
				return err
			}
			tokenID, ok := new(big.Int).SetString(args[0], 10)
			if !ok || tokenID.Sign() <= 0 {
				return model.NewValidationError("token_id", args[0], "must be a positive integer")
			}

			reader, err := open(cmd.Context())
			if err != nil {
				return err
			}
			inv, err := service.NewRegistryService(reader, 1).GetInvoice(cmd.Context(), tokenID)
			if err != nil {
				return err
			}

			row := toRow(inv, actor)
			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return printJSON(out, row)
			}
			fmt.Fprintf(out, "invoice %s (%s) is %s\n", row.TokenID, row.ExternalID, row.Status)
			fmt.Fprintf(out, "debtor:   %s\n", row.Debtor)
			fmt.Fprintf(out, "creditor: %s\n", row.Creditor)
			if len(row.Actions) == 0 {
				fmt.Fprintf(out, "no actions available to %s\n", actor)
				return nil
			}
			fmt.Fprintf(out, "actions:  %v\n", row.Actions)
			return nil
		},
	}

	cmd.Flags().String("address", "", "Address acting on the invoice")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
