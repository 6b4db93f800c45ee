package main

import (
	"fmt"
	"os"

	"github.com/cenkalti/debate"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "debate",
		Short:         "Dual-AI Dissertation Debate: Dr. Nova (OpenAI) vs Dr. Sage (Gemini)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add all commands from the debate package
	rootCmd.AddCommand(debate.ServeCmd)
	rootCmd.AddCommand(debate.RunCmd)
	rootCmd.AddCommand(debate.ListCmd)
	rootCmd.AddCommand(debate.ShowCmd)
	rootCmd.AddCommand(debate.ExportCmd)
	rootCmd.AddCommand(debate.EnvCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
