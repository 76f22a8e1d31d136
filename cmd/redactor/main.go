package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "redactor",
	Short:         "Business text assistant: generate, correct and summarize in your company's voice",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the redactor version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "redactor %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd, statusCmd, stopCmd)
	rootCmd.AddCommand(generateCmd, correctCmd, summarizeCmd)
	rootCmd.AddCommand(feedbackCmd, historyCmd, showCmd, deleteCmd, exportCmd)
	rootCmd.AddCommand(statsCmd, usageCmd, refCmd, providersCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
