package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/paperflow/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry bundles the Prometheus collectors, the tracer and the cost tracker.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	config   config.TelemetryConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	tracer   trace.Tracer
	costs    *CostTracker

	llmRequests   *prometheus.CounterVec
	llmTokens     *prometheus.CounterVec
	llmCost       *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolLatency   *prometheus.HistogramVec
	delegations   *prometheus.CounterVec
	delegationDur *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
}

// CostTracker totals spend per model and per operation.
type CostTracker struct {
	mu             sync.RWMutex
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

// CostSummary is a copy of the tracker state.
type CostSummary struct {
	TotalCost      float64            `json:"total_cost"`
	TotalTokens    int64              `json:"total_tokens"`
	ModelCosts     map[string]float64 `json:"model_costs"`
	OperationCosts map[string]float64 `json:"operation_costs"`
}

// New registers the collectors on a private registry.
func New(cfg config.TelemetryConfig, logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "paperflow"
	}
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		config:   cfg,
		logger:   logger.Named("telemetry"),
		registry: reg,
		tracer:   otel.Tracer(name),
		costs: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_llm_requests_total",
			Help: "Chat completion requests by model and outcome",
		}, []string{"model", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_llm_tokens_total",
			Help: "Tokens consumed by model and direction",
		}, []string{"model", "kind"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_llm_cost_usd_total",
			Help: "Estimated LLM spend in USD",
		}, []string{"model"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperflow_llm_request_seconds",
			Help:    "Chat completion latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperflow_tool_call_seconds",
			Help:    "Tool invocation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_subagent_invocations_total",
			Help: "Sub-agent invocations by agent type and final status",
		}, []string{"agent", "status"}),
		delegationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperflow_subagent_invocation_seconds",
			Help:    "Sub-agent invocation wall time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"agent"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paperflow_runs_total",
			Help: "Pipeline runs by kind and final status",
		}, []string{"kind", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paperflow_run_seconds",
			Help:    "Pipeline run wall time",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"kind"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		t.llmRequests, t.llmTokens, t.llmCost, t.llmLatency,
		t.toolCalls, t.toolLatency,
		t.delegations, t.delegationDur,
		t.runs, t.runDuration,
	)
	return t
}

// Registry exposes the collectors for a /metrics handler.
func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordLLMCall records one chat completion.
func (t *Telemetry) RecordLLMCall(model string, promptTokens, completionTokens int, cost float64, d time.Duration, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.llmRequests.WithLabelValues(model, status(err)).Inc()
	t.llmLatency.WithLabelValues(model).Observe(d.Seconds())
	if err != nil {
		return
	}
	t.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	t.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	if t.config.CostTracking {
		t.llmCost.WithLabelValues(model).Add(cost)
		t.costs.add(model, "llm", cost, int64(promptTokens+completionTokens))
	}
}

// RecordToolCall records one tool invocation.
func (t *Telemetry) RecordToolCall(tool string, d time.Duration, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.toolCalls.WithLabelValues(tool, status(err)).Inc()
	t.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordDelegation records a finished sub-agent invocation.
func (t *Telemetry) RecordDelegation(agent, finalStatus string, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.delegations.WithLabelValues(agent, finalStatus).Inc()
	t.delegationDur.WithLabelValues(agent).Observe(d.Seconds())
	t.logger.Debug("sub-agent finished", zap.String("agent", agent), zap.String("status", finalStatus), zap.Duration("duration", d))
}

// RecordRun records a finished pipeline run.
func (t *Telemetry) RecordRun(kind, finalStatus string, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.runs.WithLabelValues(kind, finalStatus).Inc()
	t.runDuration.WithLabelValues(kind).Observe(d.Seconds())
	costs := t.CostSummary()
	t.logger.Info("run finished",
		zap.String("kind", kind),
		zap.String("status", finalStatus),
		zap.Duration("duration", d),
		zap.Float64("total_cost_usd", costs.TotalCost),
		zap.Int64("total_tokens", costs.TotalTokens))
}

// StartSpan opens a tracing span. The returned end func records err on the span.
func (t *Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	tracer := otel.Tracer("paperflow")
	if t != nil {
		tracer = t.tracer
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// CalculateCost prices a completion from per-1K token rates.
func CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// CostSummary returns a copy of the accumulated spend.
func (t *Telemetry) CostSummary() CostSummary {
	if t == nil {
		return CostSummary{ModelCosts: map[string]float64{}, OperationCosts: map[string]float64{}}
	}
	return t.costs.summary()
}

func (c *CostTracker) add(model, operation string, cost float64, tokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelCosts[model] += cost
	c.OperationCosts[operation] += cost
	c.TotalCost += cost
	c.TotalTokens += tokens
}

func (c *CostTracker) summary() CostSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := CostSummary{
		TotalCost:      c.TotalCost,
		TotalTokens:    c.TotalTokens,
		ModelCosts:     make(map[string]float64, len(c.ModelCosts)),
		OperationCosts: make(map[string]float64, len(c.OperationCosts)),
	}
	for k, v := range c.ModelCosts {
		s.ModelCosts[k] = v
	}
	for k, v := range c.OperationCosts {
		s.OperationCosts[k] = v
	}
	return s
}
