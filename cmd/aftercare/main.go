package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "aftercare",
	Short:   "Post-discharge patient messaging assistant",
	Version: version,
	Long: `aftercare routes patient messages to the right care agent, triages
reported symptoms, and keeps an append-only audit trail of every turn.

Run "aftercare start" to launch the server, then send messages with
"aftercare turn".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(policiesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
