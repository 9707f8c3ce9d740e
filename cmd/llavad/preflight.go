package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPreflightCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check that the models directory, aux asset, selected model and engine are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, err := opts.newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			failed := 0
			for _, c := range a.Preflight(cmd.Context()) {
				mark := "ok"
				if !c.OK {
					mark = "FAIL"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %-15s %s\n", mark, c.Name, c.Detail)
			}
			if failed > 0 {
				return fmt.Errorf("%d preflight check(s) failed", failed)
			}
			return nil
		},
	}
}
