package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/checkout"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/service"
)

// Output formats accepted by -o.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", f)
	}
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// renderView prints the cart with its selection. Without a selection
// column when selection is false.
func renderView(w io.Writer, format string, v service.SelectionView, selection bool) error {
	if format != formatTable {
		if selection {
			return encode(w, format, v)
		}
		return encode(w, format, v.Cart)
	}

	if v.Cart.Identity() == "" {
		fmt.Fprintln(w, "Not signed in.")
		return nil
	}
	if v.Cart.IsEmpty() {
		fmt.Fprintf(w, "Cart of %s is empty.\n", v.Cart.Identity())
		printStatus(w, v.Status)
		return nil
	}

	selected := make(map[string]bool, len(v.Selected))
	for _, id := range v.Selected {
		selected[id] = true
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "PRODUCT\tNAME\tCATEGORY\tQTY\tPRICE\tSUBTOTAL\tIMAGE"
	if selection {
		header = "SEL\t" + header
	}
	fmt.Fprintln(tw, header)
	for _, l := range v.Cart.Lines() {
		row := fmt.Sprintf("%s\t%s\t%s\t%d\t%s\t%s\t%s",
			l.ID, l.Name, l.CategoryDisplay, l.Quantity,
			l.Price.StringFixed(2), l.Subtotal().StringFixed(2), l.DisplayImage())
		if selection {
			mark := "[ ]"
			if selected[l.ID] {
				mark = "[x]"
			}
			row = mark + "\t" + row
		}
		fmt.Fprintln(tw, row)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s: %d %s, total %s\n", v.Cart.Identity(), v.Cart.Len(),
		plural(v.Cart.Len(), "item", "items"), v.Totals.Cart.StringFixed(2))
	if selection {
		fmt.Fprintf(w, "Selected: %d, total %s\n", len(v.Selected), v.Totals.Selected.StringFixed(2))
	}
	printStatus(w, v.Status)
	return nil
}

func printStatus(w io.Writer, st cart.Status) {
	if st.IsError() {
		fmt.Fprintf(w, "Last operation failed: %s\n", st.Message)
	}
}

// renderResult prints a one-line summary of a mutation.
func renderResult(w io.Writer, res cart.Result) {
	switch res.Outcome {
	case cart.OutcomeReconciled:
		fmt.Fprintf(w, "%s: ok (%d %s)\n", res.Op, res.Cart.Len(), plural(res.Cart.Len(), "item", "items"))
	case cart.OutcomeOptimistic:
		fmt.Fprintf(w, "%s: applied locally, not confirmed by the server: %s\n", res.Op, res.Message())
	}
}

// renderReceipt prints a placed order.
func renderReceipt(w io.Writer, format string, r *checkout.Receipt) error {
	if format != formatTable {
		return encode(w, format, r)
	}
	fmt.Fprintf(w, "Order %s placed (%s), total %s\n", r.OrderID, r.Status, r.Total.StringFixed(2))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tNAME\tQTY\tSUBTOTAL")
	for _, l := range r.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.ID, l.Name, l.Quantity, l.Subtotal().StringFixed(2))
	}
	return tw.Flush()
}

// renderJournal prints journal entries, newest first.
func renderJournal(w io.Writer, format string, entries []journal.Entry) error {
	if format != formatTable {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return encode(w, format, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No journal entries.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tOPERATION\tOP\tPRODUCT\tQTY\tPHASE\tOUTCOME\tMESSAGE")
	for _, e := range entries {
		qty := ""
		if e.Quantity != 0 {
			qty = fmt.Sprint(e.Quantity)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), shortID(e.OperationID), e.Op,
			e.ProductID, qty, e.Phase, e.Outcome, e.Message)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// resultError turns an unconfirmed result into a command error. Optimistic
// results are not errors.
func resultError(res cart.Result) error {
	switch res.Outcome {
	case cart.OutcomeSkipped:
		return errNotSignedIn
	case cart.OutcomeFailed, cart.OutcomeRejected:
		return fmt.Errorf("%s %s: %s", res.Op, res.Outcome, res.Message())
	default:
		return nil
	}
}
