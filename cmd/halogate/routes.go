package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/halogate/halogate"
)

var (
	serviceStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	arrowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	upstreamStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the services the gateway resolves and their upstream base URLs",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := halogate.LoadConfig(resolveConfigPath())
		if err != nil {
			return err
		}

		printRoutes(cfg.Services)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func printRoutes(services map[string]string) {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}

	sort.Strings(names)

	for i, name := range names {
		prefix := "├── "
		if i == len(names)-1 {
			prefix = "└── "
		}

		fmt.Println(prefix +
			serviceStyle.Render("/"+name) +
			arrowStyle.Render(" -> ") +
			upstreamStyle.Render(services[name]))
	}
}
