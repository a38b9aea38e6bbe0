package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/blecfg/internal/render"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded telemetry and firmware uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			readings, err := db.RecentReadings(cmd.Context(), limit)
			if err != nil {
				return err
			}
			uploads, err := db.RecentOTA(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{"readings": readings, "uploads": uploads})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, render.Readings(readings))
			fmt.Fprintln(out)
			fmt.Fprintln(out, render.Uploads(uploads))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "entries per section")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
