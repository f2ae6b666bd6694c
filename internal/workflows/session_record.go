package workflows

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/workflows/opts"
)

const sessionParentClosePolicy = enumspb.PARENT_CLOSE_POLICY_ABANDON

// SessionRecordWorkflow appends a finished run to its session. It runs as an
// abandoned child so the research result never waits on the session store.
func SessionRecordWorkflow(ctx workflow.Context, input activities.RecordSessionInput) error {
	ctx = workflow.WithActivityOptions(ctx, opts.SessionActivityOptions())
	err := workflow.ExecuteActivity(ctx, constants.RecordSessionResearchActivity, input).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("Session recording failed",
			"session_id", input.SessionID,
			"request_id", input.RequestID,
			"error", err,
		)
	}
	return err
}
