package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Pipeline stage activities
	PlanResearchActivity      = "PlanResearch"
	DiscoverAgentActivity     = "DiscoverAgent"
	AggregateFindingsActivity = "AggregateFindings"
	GenerateSynthesisActivity = "GenerateSynthesis"
	VerifySynthesisActivity   = "VerifySynthesis"

	// Durable state log
	CommitCheckpointActivity = "CommitCheckpoint"

	// Session Management Activities
	RecordSessionResearchActivity = "RecordSessionResearch"
)

// Workflow names
const (
	ResearchWorkflowName      = "ResearchWorkflow"
	SessionRecordWorkflowName = "SessionRecordWorkflow"
)

// Query handler names
const (
	ResearchStateQuery = "research_state"
)

// Default task queue when TEMPORAL_TASK_QUEUE is unset.
const DefaultTaskQueue = "research-queue"
