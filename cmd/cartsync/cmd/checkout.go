package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
)

var (
	checkoutAll    bool
	checkoutOutput string
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout [product-id...]",
	Short: "Check out selected lines",
	Long: `Place an order for the given lines of the cart. Lines not named stay in
the cart. On success the ordered lines are gone from the cart once it is
reloaded; on failure the cart is left unchanged.

If checkout.rule is configured, the CEL expression must allow the selection.

Examples:
  cartsync checkout 42 7
  cartsync checkout --all -o json`,
	RunE: runCheckout,
}

func init() {
	checkoutCmd.Flags().BoolVar(&checkoutAll, "all", false, "check out every line")
	checkoutCmd.Flags().StringVarP(&checkoutOutput, "output", "o", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(checkoutCmd)
}

func runCheckout(cmd *cobra.Command, args []string) error {
	if err := validFormat(checkoutOutput); err != nil {
		return err
	}
	if !checkoutAll && len(args) == 0 {
		return errors.New("name at least one product, or pass --all")
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return withApp(ctx, cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		if err := a.resume(ctx); err != nil {
			return err
		}
		if checkoutAll {
			a.selection.SelectAll()
		}
		for _, id := range args {
			if a.selection.IsSelected(id) {
				continue
			}
			if err := a.selection.Toggle(id); err != nil {
				return fmt.Errorf("cannot select %s: %s", id, cart.Reason(err))
			}
		}

		receipt, err := a.selection.Checkout(ctx)
		if err != nil {
			return fmt.Errorf("checkout failed: %s", cart.Reason(err))
		}
		return renderReceipt(cmd.OutOrStdout(), checkoutOutput, receipt)
	})
}
