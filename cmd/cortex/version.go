package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/cortex/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "%s %s\n", info.Module, info); err != nil {
				return err
			}
			if !verbose {
				return nil
			}
			if info.Revision != "" {
				_, _ = fmt.Fprintf(out, "revision %s\n", info.Revision)
			}
			if !info.Time.IsZero() {
				_, _ = fmt.Fprintf(out, "built    %s\n", info.Time.UTC().Format("2006-01-02 15:04:05"))
			}
			_, err := fmt.Fprintf(out, "go       %s\n", info.GoVersion)
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print revision, build time and Go version")
	return cmd
}
