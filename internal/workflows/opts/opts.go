package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
)

// nonRetryable lists the application error types a retry can never fix.
var nonRetryable = []string{
	activities.ErrTypeInvalidQuery,
	activities.ErrTypeProviderRejected,
	activities.ErrTypeInvalidSession,
}

func stageRetry(attempts int32) *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:        2 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Second,
		MaximumAttempts:        attempts,
		NonRetryableErrorTypes: nonRetryable,
	}
}

// PlanningActivityOptions returns activity options for L0
func PlanningActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy:         stageRetry(3),
	}
}

// DiscoveryActivityOptions returns activity options for one L1 agent. The
// heartbeat timeout lets a cancelled run reach agents promptly.
func DiscoveryActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         stageRetry(2),
	}
}

// AggregationActivityOptions returns activity options for L2
func AggregationActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         stageRetry(3),
	}
}

// SynthesisActivityOptions returns activity options for L3 generation
func SynthesisActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         stageRetry(3),
	}
}

// VerifyActivityOptions returns activity options for L3 verification
func VerifyActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy:         stageRetry(3),
	}
}

// CheckpointActivityOptions returns activity options for checkpoint commits
func CheckpointActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
}

// SessionActivityOptions returns activity options for session recording
func SessionActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         stageRetry(5),
	}
}

// WithCheckpointOptions applies checkpoint activity options to a context
func WithCheckpointOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, CheckpointActivityOptions())
}
