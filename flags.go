package main

import (
	"github.com/spf13/cobra"

	"github.com/pyoci/pyoci/pkg/oci"
)

// registryFlags is the flag set shared by every subcommand that talks to a
// registry directly.
type registryFlags struct {
	Registry  string
	Namespace string
	Username  string
	Password  string
}

func (f *registryFlags) Register(cmd *cobra.Command) {
	f.RegisterOptional(cmd)
	if err := cmd.MarkFlagRequired("registry"); err != nil {
		panic(err)
	}
}

// RegisterOptional registers the registry flags without requiring --registry,
// for subcommands that also have a non-registry mode.
func (f *registryFlags) RegisterOptional(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Registry, "registry", "",
		"`URL` of the OCI registry (scheme-less means https)")
	cmd.Flags().StringVar(&f.Namespace, "namespace", "",
		"`PREFIX` under which the package lives in the registry")
	cmd.Flags().StringVar(&f.Username, "username", "",
		"Registry `USERNAME`")
	cmd.Flags().StringVar(&f.Password, "password", "",
		"Registry `PASSWORD` or token")
}

func (f *registryFlags) Client() (*oci.Client, error) {
	return oci.NewClient(f.Registry, f.Username, f.Password)
}
