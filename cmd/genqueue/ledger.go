package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func creditCmd(a *app) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "credit <user-id> <bricks>",
		Short: "Add bricks to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			if err := a.connect(cmd.Context(), true); err != nil {
				return err
			}
			txn, err := a.ledger.Credit(cmd.Context(), args[0], amount, "", note)
			if err != nil {
				return err
			}
			balance, err := a.ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  balance %d\n", txn.ID, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "top-up", "transaction description")
	return cmd
}

func balanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Print a user's brick balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(cmd.Context(), true); err != nil {
				return err
			}
			balance, err := a.ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance)
			return nil
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's ledger transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(cmd.Context(), true); err != nil {
				return err
			}
			txns, err := a.ledger.Transactions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tAMOUNT\tREF\tDESCRIPTION\tCREATED")
			for _, t := range txns {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					t.ID, t.Type, t.Amount, t.Ref, t.Description, t.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum transactions (0 = all)")
	return cmd
}
