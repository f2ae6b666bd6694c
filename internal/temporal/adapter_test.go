package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapterFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.Info("stage committed", "requestId", "research-1", "stage", "L1_discovery", "reports", 4)
	wl, ok := l.(log.WithLogger)
	require.True(t, ok, "adapter must support With")
	wl.With("workflow", "ResearchWorkflow").Warn("agent failed", "agentId", "news_1", "dangling")
	l.Debug("odd", "fn", func() {}, "ch", make(chan int), "nil", nil)

	entries := logs.All()
	assert.Len(t, entries, 3)

	first := entries[0].ContextMap()
	assert.Equal(t, "research-1", first["requestId"])
	assert.Equal(t, int64(4), first["reports"])

	second := entries[1].ContextMap()
	assert.Equal(t, "ResearchWorkflow", second["workflow"])
	assert.Equal(t, "<missing>", second["dangling"])

	third := entries[2].ContextMap()
	assert.Equal(t, "<func>", third["fn"])
	assert.Equal(t, "<chan>", third["ch"])
	assert.Equal(t, "<nil>", third["nil"])
}
