package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the autotrader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("autotrader version %s\n", version)
		fmt.Println("A risk-managed automated equity trading executor")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
