package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/config"
	"b3-ibov-pipeline/internal/logging"
)

// app carries what every subcommand needs once the root command has run
type app struct {
	config *config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "b3scraper",
		Short:         "Fetch the B3 IBOV daily composition, refine it locally and inspect recorded runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.config = cfg
			a.logger = logging.MustNew(cfg.LogLevel)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.AddCommand(newFetchCommand(a), newETLCommand(a), newRunsCommand(a))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
