package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyoci/pyoci/pkg/cliutil"
	"github.com/pyoci/pyoci/pkg/pyoci"
	"github.com/pyoci/pyoci/pkg/python/distfile"
	"github.com/pyoci/pyoci/pkg/python/pep503"
)

func init() {
	var flags registryFlags
	var fromSimple string
	cmd := &cobra.Command{
		Use:   "list [flags] PACKAGE",
		Short: "List the published files of a package",
		Long: "List every file published for PACKAGE, across all versions.  The " +
			"package name is normalized before the lookup, so any PEP 503 " +
			"equivalent spelling works.  With --from-simple the listing is read " +
			"from a simple-repository index instead of an OCI registry.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if fromSimple != "" {
				client := pep503.Client{BaseURL: fromSimple}
				links, err := client.ListFiles(ctx, args[0])
				if err != nil {
					return err
				}
				for _, link := range links {
					fmt.Fprintln(cmd.OutOrStdout(), link.Text)
				}
				return nil
			}

			if flags.Registry == "" {
				return fmt.Errorf("either --registry or --from-simple is required")
			}
			client, err := flags.Client()
			if err != nil {
				return err
			}
			defer client.Close()
			pkg := distfile.Name{
				Distribution: pep503.Normalize(args[0]),
				Namespace:    flags.Namespace,
			}
			files, err := pyoci.List(ctx, client, pkg)
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Fprintln(cmd.OutOrStdout(), file.Filename())
			}
			return nil
		},
	}
	flags.RegisterOptional(cmd)
	cmd.Flags().StringVar(&fromSimple, "from-simple", "",
		"Read the listing from the PEP 503 simple index at `URL` instead of an OCI registry")
	argparser.AddCommand(cmd)
}
