package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
)

var (
	journalLimit     int
	journalDivergent bool
	journalAll       bool
	journalOutput    string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print the operation journal",
	Long: `Print the most recent cart operations of the signed-in identity, newest
first. Every operation records a STARTED and a COMPLETED or FAILED row; a
quantity update also records REMOVED between its two phases.

--divergent lists the operations that never settled, for example a quantity
update whose process was killed after the line was removed remotely. A refresh heals the cart itself; the rows stay for inspection.

The journal is read from journal.path and requires journal.enabled.`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "maximum number of rows")
	journalCmd.Flags().BoolVar(&journalDivergent, "divergent", false, "only operations that never settled")
	journalCmd.Flags().BoolVar(&journalAll, "all", false, "include every identity")
	journalCmd.Flags().StringVarP(&journalOutput, "output", "o", formatTable, "output format: table, json or yaml")
	rootCmd.AddCommand(journalCmd)
}

// divergentReader is implemented by journals that can find unsettled operations.
type divergentReader interface {
	Divergent(ctx context.Context, identity string) ([]journal.Entry, error)
}

func runJournal(cmd *cobra.Command, args []string) error {
	if err := validFormat(journalOutput); err != nil {
		return err
	}
	if journalLimit < 1 {
		return errors.New("--limit must be at least 1")
	}

	return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
		if !a.cfg.Journal.Enabled {
			return errors.New("the journal is disabled (journal.enabled: false)")
		}
		identity := ""
		if !journalAll {
			sess, err := a.sessions.Restore(ctx)
			if err != nil {
				return err
			}
			if sess.Anonymous() {
				return errNotSignedIn
			}
			identity = sess.Identity
		}

		var (
			entries []journal.Entry
			err     error
		)
		if journalDivergent {
			dr, ok := a.journal.(divergentReader)
			if !ok {
				return errors.New("this journal cannot list divergent operations")
			}
			entries, err = dr.Divergent(ctx, identity)
			if len(entries) > journalLimit {
				entries = entries[:journalLimit]
			}
		} else {
			entries, err = a.journal.Recent(ctx, identity, journalLimit)
		}
		if err != nil {
			return err
		}
		return renderJournal(cmd.OutOrStdout(), journalOutput, entries)
	})
}
