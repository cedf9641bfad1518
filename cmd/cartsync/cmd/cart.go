package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
)

var (
	showOutput string

	addQuantity int
	addName     string
	addPrice    string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cart",
	Long: `Load the cart from the server and print it.

Examples:
  cartsync show
  cartsync show -o json`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

var addCmd = &cobra.Command{
	Use:   "add <product-id>",
	Short: "Add a product",
	Long: `Add a product to the cart, or increase its quantity when it is already there.

When the cart service cannot be reached the line is added locally and
reported as not confirmed; the next successful refresh replaces it with the
server's view. --name and --price describe the product for that local line.

Examples:
  cartsync add 42
  cartsync add 42 --qty 3 --name "Chicken Adobo" --price 189.00`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var updateCmd = &cobra.Command{
	Use:   "update <product-id> <quantity>",
	Short: "Change the quantity of a line",
	Long: `Set the quantity of a line already in the cart. Use remove to drop a line.

The cart service has no update endpoint, so the line is removed and added
back with the new quantity. Both steps are recorded in the journal.`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every line",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the cart from the server",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", formatTable, "output format: table, json or yaml")

	addCmd.Flags().IntVar(&addQuantity, "qty", 1, "quantity to add")
	addCmd.Flags().StringVar(&addName, "name", "", "product name for the local line")
	addCmd.Flags().StringVar(&addPrice, "price", "0", "unit price for the local line")

	rootCmd.AddCommand(showCmd, addCmd, removeCmd, updateCmd, clearCmd, refreshCmd)
}

// mutate resumes the session, applies op and prints its result.
func mutate(cmd *cobra.Command, op func(context.Context, *app) cart.Result) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return withApp(ctx, cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		if err := a.resume(ctx); err != nil {
			return err
		}
		res := op(ctx, a)
		if err := resultError(res); err != nil {
			return err
		}
		renderResult(cmd.OutOrStdout(), res)
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := validFormat(showOutput); err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return withApp(ctx, cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		if err := a.resume(ctx); err != nil {
			return err
		}
		return renderView(cmd.OutOrStdout(), showOutput, a.selection.View(), false)
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(addPrice)
	if err != nil {
		return fmt.Errorf("invalid --price %q: %w", addPrice, err)
	}
	product := cart.Product{ID: args[0], Name: addName, Price: price}.WithDefaults()

	return mutate(cmd, func(ctx context.Context, a *app) cart.Result {
		return a.store.AddItem(ctx, product, addQuantity)
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	return mutate(cmd, func(ctx context.Context, a *app) cart.Result {
		return a.store.RemoveItem(ctx, args[0])
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quantity %q", args[1])
	}
	return mutate(cmd, func(ctx context.Context, a *app) cart.Result {
		return a.store.UpdateQuantity(ctx, args[0], qty)
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	return mutate(cmd, func(ctx context.Context, a *app) cart.Result {
		return a.store.ClearCart(ctx)
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return mutate(cmd, func(ctx context.Context, a *app) cart.Result {
		return a.store.Refresh(ctx)
	})
}
