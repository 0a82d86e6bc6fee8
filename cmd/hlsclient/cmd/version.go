package cmd

import (
	"fmt"
	"os"

	"github.com/jmylchreest/hlsclient/internal/version"
	"github.com/spf13/cobra"
)

var versionOutput string

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of hlsclient.",
	RunE: func(_ *cobra.Command, _ []string) error {
		if versionOutput == "" {
			fmt.Println(version.String())
			return nil
		}
		return writeOutput(os.Stdout, versionOutput, version.GetInfo())
	},
}

func init() {
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "", "structured output format (json, yaml)")
	rootCmd.AddCommand(versionCmd)
}
