// Package cmd provides the scopechain command line.
package cmd

import (
	"github.com/spf13/cobra"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

var rootCmd = &cobra.Command{
	Use:   "scopechain",
	Short: "Scopechain - lexically scoped bindings for concurrent Go",
	Long: `Scopechain runs scenarios of bind, access and mutate operations across
nested and concurrent scopes, and reports what each unit of work observed.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}
