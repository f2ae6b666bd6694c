package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/workflows"
)

func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (from temporal workflow show --output json)")
	workflowID := flag.String("workflow-id", "", "Fetch the history of this research run from Temporal instead of a file")
	runID := flag.String("run-id", "", "Run id for -workflow-id (default: latest run)")
	host := flag.String("host", envOr("TEMPORAL_HOST", "localhost:7233"), "Temporal frontend address")
	namespace := flag.String("namespace", envOr("TEMPORAL_NAMESPACE", "default"), "Temporal namespace")
	flag.Parse()

	if *historyPath == "" && *workflowID == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json | -workflow-id research-<uuid>")
		os.Exit(2)
	}

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{Name: constants.ResearchWorkflowName})
	replayer.RegisterWorkflowWithOptions(workflows.SessionRecordWorkflow, workflow.RegisterOptions{Name: constants.SessionRecordWorkflowName})

	// Replay errors on any non-determinism between history and code.
	if *historyPath != "" {
		if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
			log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
		}
		log.Printf("Replay succeeded for %s", *historyPath)
		return
	}

	history, err := fetchHistory(*host, *namespace, *workflowID, *runID)
	if err != nil {
		log.Fatalf("Failed to fetch history: %v", err)
	}
	if err := replayer.ReplayWorkflowHistory(nil, history); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}
	log.Printf("Replay succeeded for %s (%d events)", *workflowID, len(history.Events))
}

func fetchHistory(host, namespace, workflowID, runID string) (*historypb.History, error) {
	c, err := client.Dial(client.Options{HostPort: host, Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	iter := c.GetWorkflowHistory(ctx, workflowID, runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	history := &historypb.History{}
	for iter.HasNext() {
		event, err := iter.Next()
		if err != nil {
			return nil, err
		}
		history.Events = append(history.Events, event)
	}
	return history, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
