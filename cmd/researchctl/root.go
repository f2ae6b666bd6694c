package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

const defaultAddr = "http://localhost:8080"

type globalFlags struct {
	addr    string
	token   string
	timeout time.Duration
	json    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "researchctl",
		Short: "Run and inspect research pipelines",
		Long: "researchctl submits research queries to the orchestrator, follows their\n" +
			"progress and manages conversation sessions.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			_ = godotenv.Load()
			if !cmd.Flags().Changed("addr") {
				if v := os.Getenv("RESEARCH_API_ADDR"); v != "" {
					g.addr = v
				}
			}
			if !cmd.Flags().Changed("token") {
				g.token = os.Getenv("RESEARCH_API_TOKEN")
			}
		},
	}
	root.Version = version

	f := root.PersistentFlags()
	f.StringVar(&g.addr, "addr", defaultAddr, "Orchestrator API base URL (env RESEARCH_API_ADDR)")
	f.StringVar(&g.token, "token", "", "Bearer token (env RESEARCH_API_TOKEN)")
	f.DurationVar(&g.timeout, "timeout", 15*time.Minute, "Request timeout")
	f.BoolVar(&g.json, "json", false, "Print raw JSON responses")

	root.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newCancelCmd(g),
		newHealthCmd(g),
		newSessionCmd(g),
	)
	return root
}

func (g *globalFlags) client() *apiClient {
	return newAPIClient(g.addr, g.token, g.timeout)
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
