package main

import (
	"github.com/spf13/cobra"

	"github.com/pyoci/pyoci/pkg/cliutil"
	"github.com/pyoci/pyoci/pkg/pyoci"
)

func init() {
	var flags registryFlags
	cmd := &cobra.Command{
		Use:   "publish [flags] FILE...",
		Short: "Publish distribution files to an OCI registry",
		Long: "Publish one or more Python distribution files (sdists or wheels) to " +
			"an OCI registry.  Each file becomes a manifest in the image index of " +
			"its version; publishing the same file again is a no-op, and " +
			"republishing a changed file overwrites its architecture in the index.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := flags.Client()
			if err != nil {
				return err
			}
			defer client.Close()
			for _, path := range args {
				if err := pyoci.Publish(ctx, client, path, flags.Namespace); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.Register(cmd)
	argparser.AddCommand(cmd)
}
