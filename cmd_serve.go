package main

import (
	"fmt"
	"os"

	"github.com/datawire/dlib/dhttp"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/pyoci/pyoci/pkg/cliutil"
	"github.com/pyoci/pyoci/pkg/simple"
)

// serveConfig is the YAML shape of the --config file.
type serveConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr"`
	// MaxUploadBytes caps the size of uploaded files.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
}

func init() {
	var addr string
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Serve the PyPI simple repository API in front of OCI registries",
		Long: "Run an HTTP server that translates the PyPI simple repository " +
			"protocol to the OCI Distribution API.  The target registry and " +
			"namespace are taken from the request path, credentials from the " +
			"request's basic-auth header; the server holds no registry state of " +
			"its own.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg := serveConfig{Addr: addr}
			if configFile != "" {
				yamlBytes, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(yamlBytes, &cfg, yaml.DisallowUnknownFields); err != nil {
					return fmt.Errorf("%s: %w", configFile, err)
				}
			}

			handler := simple.NewHandler()
			handler.MaxUploadBytes = cfg.MaxUploadBytes

			sc := &dhttp.ServerConfig{
				Handler: handler,
			}
			dlog.Infof(ctx, "listening on %s", cfg.Addr)
			return sc.ListenAndServe(ctx, cfg.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080",
		"Listen `ADDRESS` (overridden by the config file's addr)")
	cmd.Flags().StringVar(&configFile, "config", "",
		"Read server settings from `YAML_FILE`")
	argparser.AddCommand(cmd)
}
