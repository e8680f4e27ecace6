package commands

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/on-the-ground/query_ive_go/internal/scenario"
	"github.com/on-the-ground/query_ive_go/query"
	"github.com/spf13/cobra"
)

// executions counts EventExecuted per function.
type executions struct {
	counts map[string]*atomic.Int64
}

func newExecutions(functions ...string) *executions {
	e := &executions{counts: make(map[string]*atomic.Int64, len(functions))}
	for _, f := range functions {
		e.counts[f] = &atomic.Int64{}
	}
	return e
}

func (e *executions) OnEvent(ev query.Event) {
	if ev.Kind != query.EventExecuted {
		return
	}
	if n, ok := e.counts[ev.Function]; ok {
		n.Add(1)
	}
}

func (e *executions) of(function string) int64 {
	return e.counts[function].Load()
}

func (c *CLI) newHelloWorld(functions ...string) (*scenario.HelloWorld, *executions, error) {
	counter := newExecutions(functions...)
	hw := scenario.NewHelloWorld(append(c.options(), query.WithObserver(counter))...)
	if err := c.configure(hw.DB); err != nil {
		return nil, nil, err
	}
	return hw, counter, nil
}

func (c *CLI) newLengthCmd() *cobra.Command {
	var (
		text     string
		runs     int
		interned bool
	)
	cmd := &cobra.Command{
		Use:   "length",
		Short: "Set the text input and read its length, repeatedly",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hw, counter, err := c.newHelloWorld("length", "interned_length")
			if err != nil {
				return err
			}

			var n int
			for i := range runs {
				value := strings.Repeat(text, i+1)
				if interned {
					n, err = hw.RunInternedLength(value)
				} else {
					n, err = hw.RunLength(value)
				}
				if err != nil {
					return err
				}
			}

			function := "length"
			if interned {
				function = "interned_length"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "length=%d runs=%d executed=%d revision=%s\n",
				n, runs, counter.of(function), hw.DB.Revision())
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "A", "Text written to the input, repeated once more on every run")
	cmd.Flags().IntVar(&runs, "runs", 1, "Number of write-then-read rounds")
	cmd.Flags().BoolVar(&interned, "interned", false, "Key the length query by interned text instead of the input")
	return cmd
}

func (c *CLI) newConstantCmd() *cobra.Command {
	var runs int
	cmd := &cobra.Command{
		Use:   "constant",
		Short: "Advance the revision and read a query that depends on nothing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hw, counter, err := c.newHelloWorld("constant")
			if err != nil {
				return err
			}

			var v int
			for range runs {
				if v, err = hw.RunConstant(); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "constant=%d runs=%d executed=%d revision=%s\n",
				v, runs, counter.of("constant"), hw.DB.Revision())
			return nil
		},
	}
	cmd.Flags().IntVar(&runs, "runs", 1, "Number of rounds")
	return cmd
}
