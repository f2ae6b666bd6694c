package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/formatting"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/server"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		req      server.RunRequest
		async    bool
		markdown bool
	)
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run a research query",
		Long:  "Run a research query and wait for the report, or return the request id with --async.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = args[0]
			c := g.client()
			out := cmd.OutOrStdout()

			if async {
				var started struct {
					RequestID string `json:"requestId"`
					Status    string `json:"status"`
				}
				if err := c.do(cmd.Context(), "POST", "/research?async=true", req, &started); err != nil {
					return err
				}
				if g.json {
					return printJSON(out, started)
				}
				fmt.Fprintf(out, "Started %s (%s)\n", started.RequestID, started.Status)
				return nil
			}

			var result models.ResearchResult
			if err := c.do(cmd.Context(), "POST", "/research", req, &result); err != nil {
				return err
			}
			if g.json {
				return printJSON(out, result)
			}
			if markdown && result.Output != nil {
				fmt.Fprint(out, formatting.RenderMarkdown(result.Output))
				return nil
			}
			printResult(out, &result)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.RequestID, "request-id", "", "Idempotency key; must start with "+server.RequestIDPrefix)
	f.StringVar(&req.SessionID, "session", "", "Session to record the run against")
	f.IntVar(&req.Options.MaxFindings, "max-findings", 0, "Findings kept after deduplication")
	f.Float64Var(&req.Options.DedupThreshold, "dedup-threshold", 0, "Cosine similarity treated as duplicate")
	f.IntVar(&req.Options.ThinkingBudget, "thinking-budget", 0, "Extended thinking tokens for planning and synthesis")
	f.IntVar(&req.Options.MaxIterations, "max-iterations", 0, "Synthesis/verification cycles")
	f.BoolVar(&req.Options.SkipVerification, "skip-verification", false, "Generate once without verifying")
	f.BoolVar(&async, "async", false, "Return immediately with the request id")
	f.BoolVar(&markdown, "markdown", false, "Print the report as Markdown")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the state of a research run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var state models.ResearchState
			if err := g.client().do(cmd.Context(), "GET", "/research/"+url.PathEscape(args[0]), nil, &state); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, state)
			}
			if markdown {
				if state.Output == nil {
					return fmt.Errorf("run %s has no report yet (status %s)", state.RequestID, state.Status)
				}
				fmt.Fprint(out, formatting.RenderMarkdown(state.Output))
				return nil
			}
			printState(out, &state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Print the finished report as Markdown")
	return cmd
}

func newCancelCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel an in-flight research run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().do(cmd.Context(), "POST", "/research/"+url.PathEscape(args[0])+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newHealthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the orchestrator API is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h server.HealthStatus
			if err := g.client().do(cmd.Context(), "GET", "/health", nil, &h); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, h)
			}
			fmt.Fprintf(out, "%s (%s)\n", h.Status, h.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}

func printResult(out io.Writer, r *models.ResearchResult) {
	fmt.Fprintf(out, "Request:  %s\n", r.RequestID)
	fmt.Fprintf(out, "Duration: %.1fs\n", r.DurationSeconds)
	fmt.Fprintf(out, "Tokens:   %d\n", r.TokensUsed)
	if r.Output == nil {
		return
	}
	o := r.Output
	fmt.Fprintf(out, "Verdict:  %s (confidence %.2f, %d iteration(s))\n",
		o.Verification.Verdict, o.Metadata.Confidence, o.Metadata.IterationsUsed)
	fmt.Fprintf(out, "Sources:  %d\n", len(o.Sources))
	if o.Goal != "" {
		fmt.Fprintf(out, "\nGoal\n  %s\n", o.Goal)
	}
	fmt.Fprintf(out, "\nSummary\n  %s\n", o.ExecutiveSummary)
	if len(o.Themes) > 0 {
		fmt.Fprintf(out, "\nThemes\n")
		for _, t := range o.Themes {
			fmt.Fprintf(out, "  - %s\n", t.Name)
		}
	}
	if len(o.OpenQuestions) > 0 {
		fmt.Fprintf(out, "\nOpen questions\n")
		for _, q := range o.OpenQuestions {
			fmt.Fprintf(out, "  - %s\n", q.Question)
		}
	}
}

func printState(out io.Writer, s *models.ResearchState) {
	fmt.Fprintf(out, "Request: %s\n", s.RequestID)
	fmt.Fprintf(out, "Query:   %s\n", s.Query)
	fmt.Fprintf(out, "Status:  %s\n", s.Status)
	if s.FailedStage != "" {
		fmt.Fprintf(out, "Failed:  %s: %s\n", s.FailedStage, s.Error)
	}
	fmt.Fprintf(out, "Tokens:  %d\n", s.TokensUsed)
	if len(s.StagesCompleted) > 0 {
		fmt.Fprintf(out, "Stages:\n")
		for _, stage := range s.StagesCompleted {
			fmt.Fprintf(out, "  %s %dms\n", stage, s.LayerTimings[stage])
		}
	}
	if len(s.FieldReports) > 0 {
		fmt.Fprintf(out, "Agents:\n")
		reports := append([]models.FieldReport(nil), s.FieldReports...)
		sort.Slice(reports, func(i, j int) bool { return reports[i].AgentName < reports[j].AgentName })
		for _, r := range reports {
			fmt.Fprintf(out, "  %s: %d finding(s)\n", r.AgentName, len(r.Findings))
		}
	}
}
