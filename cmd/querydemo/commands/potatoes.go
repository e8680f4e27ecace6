package commands

import (
	"fmt"

	"github.com/on-the-ground/query_ive_go/internal/scenario"
	"github.com/on-the-ground/query_ive_go/query"
	"github.com/on-the-ground/query_ive_go/query/intern"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *CLI) newPotatoesCmd() *cobra.Command {
	var (
		count    uint32
		capacity int
		noLRU    bool
		interned bool
		readers  int
	)
	cmd := &cobra.Command{
		Use:   "potatoes",
		Short: "Fill a memo table with hot potatoes and report how many stay alive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := scenario.NewPotatoes(capacity, c.options()...)
			if err := c.configure(p.DB); err != nil {
				return err
			}

			var read func(r query.Reader, i int) (*scenario.HotPotato, error)
			var function string
			if interned {
				fn := p.FromInterned
				if noLRU {
					fn = p.FromInternedNoLRU
				}
				ids, err := p.LoadFromInterned(fn, 0, count)
				if err != nil {
					return err
				}
				read = func(r query.Reader, i int) (*scenario.HotPotato, error) {
					return fn.Get(r, ids[i])
				}
				function = fn.Name()
				defer releaseAll(p.Fields, ids)
			} else {
				fn := p.FromInput
				if noLRU {
					fn = p.FromInputNoLRU
				}
				inputs, err := p.LoadFromInputs(fn, 0, count)
				if err != nil {
					return err
				}
				read = func(r query.Reader, i int) (*scenario.HotPotato, error) {
					return fn.Get(r, inputs[i])
				}
				function = fn.Name()
			}

			if err := c.readConcurrently(cmd, p.DB, int(count), readers, read); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "function=%s potatoes=%d live=%d\n", function, count, p.Collect())
			return nil
		},
	}
	cmd.Flags().Uint32Var(&count, "count", 256, "Number of potatoes to create")
	cmd.Flags().IntVar(&capacity, "lru", scenario.DefaultPotatoLRU, "LRU capacity of the bounded potato queries")
	cmd.Flags().BoolVar(&noLRU, "no-lru", false, "Use the unbounded potato query")
	cmd.Flags().BoolVar(&interned, "interned", false, "Key potatoes by interned field instead of by input")
	cmd.Flags().IntVar(&readers, "readers", 0, "Goroutines re-reading every potato through a snapshot")
	return cmd
}

// readConcurrently splits [0, n) across readers goroutines, each on its own
// fork of one snapshot.
func (c *CLI) readConcurrently(
	cmd *cobra.Command,
	db *query.Database,
	n, readers int,
	read func(query.Reader, int) (*scenario.HotPotato, error),
) error {
	if readers <= 0 {
		return nil
	}
	snap := db.Snapshot()
	defer snap.Close()

	g, ctx := errgroup.WithContext(cmd.Context())
	for w := range readers {
		view := snap.Fork()
		g.Go(func() error {
			defer view.Close()
			for i := w; i < n; i += readers {
				if err := ctx.Err(); err != nil {
					return err
				}
				potato, err := read(view, i)
				if err != nil {
					return err
				}
				if potato.ID != uint32(i) {
					err := zerr.With(zerr.Wrap(scenario.ErrWrongPotato, "concurrent read"), "reader", w)
					return zerr.With(zerr.With(err, "want", i), "got", potato.ID)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	c.logger.Debug("concurrent read finished", zap.Int("readers", readers), zap.Error(err))
	return err
}

func releaseAll(fields *intern.Interner[uint32], ids []intern.ID) {
	for _, id := range ids {
		_ = fields.Release(id)
	}
}
