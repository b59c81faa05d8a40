package main

import (
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/pyoci/pyoci/pkg/cliutil"
	"github.com/pyoci/pyoci/pkg/pyoci"
	"github.com/pyoci/pyoci/pkg/python/distfile"
)

func init() {
	var flags registryFlags
	var outDir string
	cmd := &cobra.Command{
		Use:   "pull [flags] FILENAME...",
		Short: "Pull distribution files from an OCI registry",
		Long: "Pull one or more previously published distribution files, named by " +
			"their full filename (e.g. pyoci-0.1.0.tar.gz), and write them to " +
			"the output directory.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := flags.Client()
			if err != nil {
				return err
			}
			defer client.Close()
			for _, filename := range args {
				pkg, err := distfile.Parse(flags.Namespace, filename)
				if err != nil {
					return err
				}
				content, err := pyoci.Pull(ctx, client, pkg)
				if err != nil {
					return err
				}
				outPath := filepath.Join(outDir, pkg.Filename())
				if err := os.WriteFile(outPath, content, 0o666); err != nil {
					return err
				}
				dlog.Infof(ctx, "wrote %s", outPath)
			}
			return nil
		},
	}
	flags.Register(cmd)
	cmd.Flags().StringVarP(&outDir, "output", "o", ".",
		"Write pulled files to `DIR`")
	argparser.AddCommand(cmd)
}
