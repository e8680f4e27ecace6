// Package commands implements the querydemo CLI.
package commands

import (
	"context"
	"errors"
	"io"

	"github.com/on-the-ground/query_ive_go/query"
	"github.com/on-the-ground/query_ive_go/query/config"
	querylog "github.com/on-the-ground/query_ive_go/query/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI runs the demo scenarios against a fresh database per command.
type CLI struct {
	rootCmd *cobra.Command

	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func New() *CLI {
	rootCmd := &cobra.Command{
		Use:           "querydemo",
		Short:         "Run the incremental query engine scenarios",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c := &CLI{
		rootCmd: rootCmd,
		cfg:     &config.Config{},
		logger:  zap.NewNop(),
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML file with log level and LRU capacities")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log every engine event")
	rootCmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return c.setup()
	}

	rootCmd.AddCommand(c.newLengthCmd())
	rootCmd.AddCommand(c.newConstantCmd())
	rootCmd.AddCommand(c.newPotatoesCmd())

	return c
}

func (c *CLI) setup() error {
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.cfg = cfg
		logger, err := cfg.Logger()
		if err != nil {
			return err
		}
		c.logger = logger
	}
	if c.verbose && c.configPath == "" {
		c.logger = querylog.NewTestLogger()
	}
	return nil
}

// options wires the logger into every database the commands build.
func (c *CLI) options() []query.Option {
	opts := []query.Option{query.WithLogger(c.logger)}
	if c.verbose {
		opts = append(opts, query.WithObserver(querylog.NewZapObserver(c.logger)))
	}
	return opts
}

// configure applies the configured LRU capacities. Entries for functions
// the database does not have are only logged; one config serves every command.
func (c *CLI) configure(db *query.Database) error {
	err := c.cfg.Apply(db)
	if err != nil && errors.Is(err, query.ErrUnknownFunction) {
		c.logger.Debug("config names functions this command does not register", zap.Error(err))
		return nil
	}
	return err
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	defer func() {
		_ = c.logger.Sync()
	}()
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}
