package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.0125, CalculateCost(1000, 1000, 0.0025, 0.01), 1e-9)
	assert.Zero(t, CalculateCost(0, 0, 1, 1))
}

func TestRecordLLMCallTracksCost(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true, CostTracking: true}, nil)

	tel.RecordLLMCall("gpt-4o", 100, 50, 0.5, time.Second, nil)
	tel.RecordLLMCall("gpt-4o", 0, 0, 0, time.Second, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.llmRequests.WithLabelValues("gpt-4o", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.llmRequests.WithLabelValues("gpt-4o", "error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(tel.llmTokens.WithLabelValues("gpt-4o", "prompt")))

	sum := tel.CostSummary()
	assert.InDelta(t, 0.5, sum.TotalCost, 1e-9)
	assert.Equal(t, int64(150), sum.TotalTokens)
	assert.InDelta(t, 0.5, sum.ModelCosts["gpt-4o"], 1e-9)
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: false}, nil)
	tel.RecordToolCall("read_file", time.Millisecond, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(tel.toolCalls.WithLabelValues("read_file", "ok")))
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry
	tel.RecordRun("workflow", "completed", time.Second)
	tel.RecordDelegation("writer", "completed", time.Second)
	assert.Nil(t, tel.Registry())
	_, end := tel.StartSpan(context.Background(), "x")
	end(nil)
	require.NotNil(t, tel.CostSummary().ModelCosts)
}
