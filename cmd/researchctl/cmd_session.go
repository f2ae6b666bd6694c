package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
)

func newSessionCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(
		newSessionCreateCmd(g),
		newSessionMessageCmd(g),
		newSessionHistoryCmd(g),
		newSessionInfoCmd(g),
	)
	return cmd
}

func sessionPath(id string, rest ...string) string {
	p := "/sessions/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func newSessionCreateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <session-id>",
		Short: "Create a session, resetting any existing history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s session.Session
			if err := g.client().do(cmd.Context(), "POST", sessionPath(args[0]), nil, &s); err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created session %s\n", s.ID)
			return nil
		},
	}
}

func newSessionMessageCmd(g *globalFlags) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "message <session-id> <content>",
		Short: "Append a message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"role": role, "content": args[1]}
			var s session.Session
			if err := g.client().do(cmd.Context(), "POST", sessionPath(args[0], "messages"), body, &s); err != nil {
				return err
			}
			if g.json {
				return printJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s now has %d message(s)\n", s.ID, len(s.History))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "Message role: user, assistant or system")
	return cmd
}

func newSessionHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the most recent messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := sessionPath(args[0], "history")
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var hist struct {
				SessionID string            `json:"sessionId"`
				Messages  []session.Message `json:"messages"`
			}
			if err := g.client().do(cmd.Context(), "GET", path, nil, &hist); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, hist)
			}
			if len(hist.Messages) == 0 {
				fmt.Fprintf(out, "No messages in session %s\n", args[0])
				return nil
			}
			for _, m := range hist.Messages {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of messages to show (0 = all)")
	return cmd
}

func newSessionInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <session-id>",
		Short: "Show session counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var info session.Info
			if err := g.client().do(cmd.Context(), "GET", sessionPath(args[0]), nil, &info); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.json {
				return printJSON(out, info)
			}
			fmt.Fprintf(out, "Session:  %s\n", info.SessionID)
			fmt.Fprintf(out, "Created:  %s\n", info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(out, "Updated:  %s\n", info.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
			fmt.Fprintf(out, "Messages: %d\n", info.MessageCount)
			fmt.Fprintf(out, "Research: %d\n", info.ResearchCount)
			return nil
		},
	}
}
