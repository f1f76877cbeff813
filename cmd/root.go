// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/rigup-org/rigup/internal/paths"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:          "rigup",
	Short:        "Declarative machine provisioning from a rigup.yaml manifest",
	SilenceUsage: true,
}

func Execute() {
	if dataDir := os.Getenv("RIGUP_DATA_DIR"); dataDir != "" {
		paths.SetDataDirOverride(dataDir)
	}

	rootCmd.AddCommand(NewApplyCmd())
	rootCmd.AddCommand(NewPlanCmd())
	rootCmd.AddCommand(NewUnitsCmd())
	rootCmd.AddCommand(NewFetchCmd())
	rootCmd.AddCommand(NewTokensCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("manifest", "f", "rigup.yaml", "Path to the provisioning manifest")
	cmd.Flags().CountP("verbose", "v", "Increase verbosity")
	cmd.Flags().BoolP("quiet", "q", false, "Quiet mode")
	cmd.Flags().String("data-dir", "", "Override the rigup data directory")
}

func applyDataDirFlag(cmd *cobra.Command) {
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		paths.SetDataDirOverride(dir)
	}
}

// commonOptions extracts the flag values shared by every subcommand.
func commonOptions(flags *pflag.FlagSet) (manifestPath string, verbose int, quiet bool) {
	manifestPath, _ = flags.GetString("manifest")
	verbose, _ = flags.GetCount("verbose")
	quiet, _ = flags.GetBool("quiet")
	return manifestPath, verbose, quiet
}
