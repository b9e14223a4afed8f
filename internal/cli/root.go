// Package cli implements the orderflow command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand returns the orderflow command tree. version is printed by
// "orderflow version".
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "orderflow",
		Short:         "Durable order-processing workflow service",
		Long:          "orderflow accepts coffee orders over HTTP and drives each one through a durable workflow: store the order item, decide, store the invoice.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default is ./orderflow.yaml or /etc/orderflow/orderflow.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().String("log-format", "", "log format: text or json")

	root.AddCommand(
		newServeCommand(),
		newValidateCommand(),
		newVersionCommand(version),
	)
	return root
}
