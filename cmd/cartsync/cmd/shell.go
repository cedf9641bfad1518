package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	statushttp "github.com/Tetsuuya/tasty-kitchen-3/internal/adapter/inbound/http"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/session"
)

var (
	shellServe bool
	shellAddr  string
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with selection and status server",
	Long: `Start an interactive session that keeps one cart and one selection alive
between commands. Type "help" for the command list.

With --serve (or status.enabled, or --dev) a read-only status server runs
alongside the session:
  GET /health      cart status and journal health
  GET /metrics     Prometheus metrics
  GET /v1/cart     cart, selection and totals as JSON
  GET /v1/journal  recent journal rows`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().BoolVar(&shellServe, "serve", false, "serve the status server")
	shellCmd.Flags().StringVar(&shellAddr, "addr", "", "status server address (default: status.http_addr)")
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return withApp(ctx, cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		if res := a.store.Resume(ctx); res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", res.Message())
		}

		serve := shellServe || a.cfg.Status.Enabled
		addr := a.cfg.Status.HTTPAddr
		if shellAddr != "" {
			addr = shellAddr
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		events, unsubscribe := a.store.Subscribe()
		g.Go(func() error {
			for ev := range events {
				a.logger.DebugContext(gctx, "cart changed",
					"op", ev.Op, "status", ev.Status.String(), "items", ev.Cart.Len())
			}
			return nil
		})

		if serve {
			srv := statushttp.NewStatusServer(a.selection,
				statushttp.WithAddr(addr),
				statushttp.WithJournal(a.journal),
				statushttp.WithGatherer(a.registry),
				statushttp.WithMetrics(a.metrics),
				statushttp.WithVersion(Version),
				statushttp.WithLogger(a.logger),
			)
			g.Go(func() error { return srv.Start(gctx) })
			fmt.Fprintf(cmd.OutOrStdout(), "Status server on http://%s\n", addr)
		}

		loopErr := newShell(a, cmd.InOrStdin(), cmd.OutOrStdout()).run(gctx)
		unsubscribe()
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return loopErr
	})
}

// shell is the interactive command loop.
type shell struct {
	app *app
	in  *bufio.Scanner
	out io.Writer
}

func newShell(a *app, in io.Reader, out io.Writer) *shell {
	return &shell{app: a, in: bufio.NewScanner(in), out: out}
}

const shellHelp = `Commands:
  show [json|yaml]          print the cart and the selection
  add <id> [qty]            add a product
  remove <id>               remove a product
  update <id> <qty>         change a quantity
  clear                     remove every line
  refresh                   reload from the server
  select <id>...            toggle lines in the selection
  all                       select all, or deselect all when all are selected
  none                      deselect all
  checkout                  check out the selected lines
  remove-selected           remove the selected lines
  login <identity> <token>  switch identity
  logout                    sign out
  journal [n]               recent journal rows
  quit                      leave the shell`

// run reads commands until EOF, "quit" or ctx is done.
func (s *shell) run(ctx context.Context) error {
	s.prompt()
	for s.in.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(s.in.Text())
		if len(fields) > 0 {
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			if err := s.exec(ctx, fields[0], fields[1:]); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
		s.prompt()
	}
	return s.in.Err()
}

func (s *shell) prompt() {
	who := s.app.store.Identity()
	if who == "" {
		who = "anonymous"
	}
	fmt.Fprintf(s.out, "%s> ", who)
}

func (s *shell) exec(ctx context.Context, name string, args []string) error {
	store, sel := s.app.store, s.app.selection

	switch name {
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
		return nil

	case "show", "ls":
		format := formatTable
		if len(args) > 0 {
			format = args[0]
		}
		if err := validFormat(format); err != nil {
			return err
		}
		return renderView(s.out, format, sel.View(), true)

	case "add":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: add <id> [qty]")
		}
		qty := 1
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			qty = n
		}
		product := cart.Product{ID: args[0]}.WithDefaults()
		if l, ok := store.Snapshot().Line(args[0]); ok {
			product = l.Product
		}
		return s.report(store.AddItem(ctx, product, qty))

	case "remove", "rm":
		if len(args) != 1 {
			return errors.New("usage: remove <id>")
		}
		return s.report(store.RemoveItem(ctx, args[0]))

	case "update":
		if len(args) != 2 {
			return errors.New("usage: update <id> <qty>")
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		return s.report(store.UpdateQuantity(ctx, args[0], qty))

	case "clear":
		return s.report(store.ClearCart(ctx))

	case "refresh":
		return s.report(store.Refresh(ctx))

	case "select":
		if len(args) == 0 {
			return errors.New("usage: select <id>...")
		}
		for _, id := range args {
			if err := sel.Toggle(id); err != nil {
				return fmt.Errorf("%s: %s", id, cart.Reason(err))
			}
		}
		s.selectionSummary()
		return nil

	case "all":
		sel.ToggleSelectAll()
		s.selectionSummary()
		return nil

	case "none":
		sel.DeselectAll()
		s.selectionSummary()
		return nil

	case "checkout":
		receipt, err := sel.Checkout(ctx)
		if err != nil {
			return errors.New(cart.Reason(err))
		}
		return renderReceipt(s.out, formatTable, receipt)

	case "remove-selected":
		return s.report(sel.RemoveSelected(ctx))

	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <identity> <token>")
		}
		return s.report(store.SetIdentity(ctx, session.Session{Identity: args[0], Credential: args[1]}))

	case "logout":
		return s.report(store.SetIdentity(ctx, session.Session{}))

	case "journal":
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid row count %q", args[0])
			}
			limit = n
		}
		entries, err := s.app.journal.Recent(ctx, store.Identity(), limit)
		if err != nil {
			return err
		}
		return renderJournal(s.out, formatTable, entries)

	default:
		return fmt.Errorf("unknown command %q (try help)", name)
	}
}

// report prints the result of a mutation.
func (s *shell) report(res cart.Result) error {
	if err := resultError(res); err != nil {
		return err
	}
	renderResult(s.out, res)
	return nil
}

func (s *shell) selectionSummary() {
	t := s.app.selection.Totals()
	fmt.Fprintf(s.out, "Selected %d of %d, total %s\n",
		len(s.app.selection.Selected()), s.app.store.Snapshot().Len(), t.Selected.StringFixed(2))
}
