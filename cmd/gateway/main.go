// Command gateway runs the translating Anthropic/OpenAI LLM gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "LLM gateway - Anthropic/OpenAI protocol-translating proxy",
	Long: `gateway fronts an OpenAI-compatible (or Anthropic-compatible)
downstream with a stable Anthropic Messages API surface, translating
requests and streamed responses between the two dialects.`,
}

func init() {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gateway %s (commit %s, built %s)\n", version, gitCommit, buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
