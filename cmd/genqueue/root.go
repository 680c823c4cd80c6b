package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/genqueue/internal/config"
)

func newRootCmd(a *app) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "genqueue",
		Short:         "Durable generation job queue, worker and ledger",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				if err := os.Setenv(config.EnvFile, envFile); err != nil {
					return err
				}
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default: nearest .env)")

	root.AddCommand(
		workerCmd(a),
		enqueueCmd(a),
		statusCmd(a),
		cancelCmd(a),
		retryCmd(a),
		statsCmd(a),
		listCmd(a),
		cleanCmd(a),
		sweepCmd(a),
		workersCmd(a),
		creditCmd(a),
		balanceCmd(a),
		historyCmd(a),
	)
	return root
}
