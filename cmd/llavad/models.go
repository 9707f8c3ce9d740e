package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and download models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("models requires a subcommand: list|download")
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog and sideloaded models",
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
			resp := a.Models()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRESENT\tSIZE\tMIN RAM")
			for _, m := range resp.Models {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%d GiB\n", m.ID, m.Name, m.Present, m.Size, m.MinRAMGiB)
			}
			for _, m := range resp.Sideloaded {
				fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t-\n", m.ID, "(sideloaded)", m.Present, m.Size)
			}
			return tw.Flush()
		},
	}
	download := &cobra.Command{
		Use:     "download <id>",
		Short:   "Download a catalog model",
		Example: "  llavad models download danube-ko-1.8b-q8",
		Args:    cobra.ExactArgs(1),
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
			out := cmd.OutOrStdout()
			last := -1
			err = a.Download(cmd.Context(), args[0], func(p float64) {
				if pct := int(p * 100); pct != last {
					last = pct
					fmt.Fprintf(out, "\r%s %3d%%", args[0], pct)
				}
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s downloaded to %s\n", args[0], a.Registry.Dir())
			return nil
		},
	}
	cmd.AddCommand(list, download)
	return cmd
}
