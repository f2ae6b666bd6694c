package interceptors

import (
	"net/http"
	"strconv"

	"go.temporal.io/sdk/activity"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/tracing"
)

// Headers attached to provider requests made from inside an activity.
const (
	HeaderRequestID = "X-Research-Request-ID"
	HeaderRunID     = "X-Run-ID"
	HeaderActivity  = "X-Activity-Type"
	HeaderAttempt   = "X-Activity-Attempt"
)

// WorkflowHTTPRoundTripper tags outgoing provider calls with the research run that
// issued them and with the caller's trace context.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base (http.DefaultTransport when nil).
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	tracing.InjectTraceparent(req.Context(), req)
	if info, ok := activityInfo(req); ok && info.WorkflowExecution.ID != "" {
		req.Header.Set(HeaderRequestID, info.WorkflowExecution.ID)
		req.Header.Set(HeaderRunID, info.WorkflowExecution.RunID)
		req.Header.Set(HeaderActivity, info.ActivityType.Name)
		req.Header.Set(HeaderAttempt, strconv.Itoa(int(info.Attempt)))
	}
	return w.base.RoundTrip(req)
}

// activityInfo returns the activity info when req was issued from an activity.
// activity.GetInfo panics outside an activity context (tests, CLI).
func activityInfo(req *http.Request) (info activity.Info, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return activity.GetInfo(req.Context()), true
}
