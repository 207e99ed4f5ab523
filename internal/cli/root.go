// Package cli implements the fulfill command.
package cli

import (
	"fmt"
	"os"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/spf13/cobra"
)

// state is filled in by the root command before any subcommand runs.
type state struct {
	configPath string
	cfg        *config.Config
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	st := &state{}

	rootCmd := &cobra.Command{
		Use:           "fulfill",
		Short:         "GIS data request fulfillment",
		Long:          "Fulfills pending survey requests for record documents and utility GIS layers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(st.configPath))
			if err != nil {
				return err
			}
			st.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&st.configPath, "config", "c", "", "Settings file (default $FULFILLMENT_CONFIG or config.yaml)")

	rootCmd.AddCommand(newRunCmd(st))
	rootCmd.AddCommand(newWatchCmd(st))
	rootCmd.AddCommand(newCheckConfigCmd(st))
	rootCmd.AddCommand(newCatalogCmd(st))
	return rootCmd
}
