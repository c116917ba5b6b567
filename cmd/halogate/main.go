package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const fallbackConfigPath = "./halogate.yaml"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "halogate",
	Short: "halogate is a reverse-proxy API gateway",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the gateway configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}

	if env := os.Getenv("HALOGATE_CONFIG"); env != "" {
		return env
	}

	return fallbackConfigPath
}
