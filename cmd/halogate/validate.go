package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halogate/halogate"
)

var validateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validate the gateway configuration file",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		if _, err := halogate.LoadConfig(resolveConfigPath()); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}

		fmt.Println("OK")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
