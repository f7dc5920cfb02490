package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stageload/internal/permission"
	"github.com/JonMunkholm/stageload/internal/store"
)

func newCheckCmd() *cobra.Command {
	var (
		namespaces []string
		allTables  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the database login can load into the given schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if len(namespaces) == 0 {
				namespaces = []string{a.cfg.Load.DefaultNamespace}
			}
			if allTables {
				for _, t := range a.settings.Tables() {
					namespaces = append(namespaces, store.ParseTable(t, a.cfg.Load.DefaultNamespace).Schema)
				}
			}

			out := cmd.OutOrStdout()
			failed := 0
			seen := map[string]bool{}
			for _, ns := range namespaces {
				if seen[ns] {
					continue
				}
				seen[ns] = true

				report, err := permission.Check(cmd.Context(), a.store, ns)
				if err != nil {
					return err
				}
				fmt.Fprint(out, report.Text())
				if !report.Passed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w in %d schema(s)", permission.ErrCheckFailed, failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&namespaces, "namespace", "n", nil, "Schemas to check (default: LOAD_DEFAULT_NAMESPACE)")
	cmd.Flags().BoolVar(&allTables, "all-tables", false, "Also check the schema of every configured table")
	return cmd
}
