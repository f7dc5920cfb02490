package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func execute() int {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "stageload",
		Short:         "Load CSV files into reconciled staging tables",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Values in the env file overwrite the environment.
			if err := godotenv.Overload(envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file read before configuration (optional unless set)")

	root.AddCommand(
		newServeCmd(),
		newLoadCmd(),
		newCheckCmd(),
		newTypesCmd(),
	)
	return root
}
