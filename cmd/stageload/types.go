package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stageload/internal/config"
	"github.com/JonMunkholm/stageload/internal/settings"
)

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the configured file types and their destination tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := settings.Load(cfg.Settings.ColumnSettingsPath, cfg.Settings.DtypeSettingsPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILE TYPE\tTABLE\tCOLUMNS\tDATES")
			for _, name := range st.FileTypes() {
				ft, err := st.Lookup(name)
				if err != nil {
					return err
				}
				dates := "US"
				if ft.DayFirst {
					dates = "UK"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", ft.Name, ft.Table, len(ft.Columns), dates)
			}
			return w.Flush()
		},
	}
}
