package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/topup-systems/topup/internal/app/issuer"
	"github.com/topup-systems/topup/internal/daemon"
	"github.com/topup-systems/topup/internal/domain"
)

// ─── Admin Commands ─────────────────────────────────────────────────────────
// Operate directly on the store; meant for the operator's shell, not for
// payers. The serve process sees the effects immediately.

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(adjustCmd)

	ordersCmd.Flags().Bool("pending", false, "Show only the pending review feed")
	ordersCmd.Flags().String("payer", "", "Show one payer's orders")
	adjustCmd.Flags().String("operator", "", "Operator ref recorded on the audit entry")
}

var balanceCmd = &cobra.Command{
	Use:   "balance OWNER_REF",
	Short: "Show an account's credit balance and ledger history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.Load(cfgPath)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		iss := issuer.New(store)
		balance, err := iss.CurrentBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", args[0], balance)

		entries, err := iss.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tDELTA\tREASON\tORDER\tACTOR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%+d\t%s\t%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Delta, e.Reason, e.CausingOrderID, e.Actor)
		}
		return w.Flush()
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.Load(cfgPath)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		pendingOnly, _ := cmd.Flags().GetBool("pending")
		payer, _ := cmd.Flags().GetString("payer")

		var orders []domain.Order
		switch {
		case payer != "":
			orders, err = store.OrdersByPayer(cmd.Context(), payer)
		case pendingOnly:
			orders, err = store.PendingOrders(cmd.Context())
		default:
			orders, err = store.PendingOrders(cmd.Context())
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPAYER\tQTY\tAMOUNT\tSTATUS\tCREATED")
		for _, o := range orders {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				o.ID, o.PayerRef, o.Quantity, o.Amount, o.Status, o.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var adjustCmd = &cobra.Command{
	Use:   "adjust OWNER_REF DELTA",
	Short: "Apply a manual balance correction with an audit ledger entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("delta must be an integer: %w", err)
		}

		cfg, err := daemon.Load(cfgPath)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		actor := domain.ActorSystem
		if op, _ := cmd.Flags().GetString("operator"); op != "" {
			actor = domain.ActorOperator
		}

		iss := issuer.New(store)
		entry, err := iss.Adjust(cmd.Context(), args[0], delta, actor)
		if err != nil {
			return err
		}

		balance, err := iss.CurrentBalance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("applied %+d to %s (entry %s), balance now %d\n", entry.Delta, args[0], entry.ID, balance)
		return nil
	},
}
