package hooks

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/cascade/pkg/api"
)

// InstrumentationName is the tracer name used by cmd wiring.
const InstrumentationName = "github.com/petrijr/cascade"

type spanEntry struct {
	span trace.Span
	ctx  context.Context //nolint:containedctx // parents child spans
}

// tracer turns hook callbacks into nested spans: flow, then step, then node.
// A child run's flow span is parented under its parent run's flow span.
type tracer struct {
	tracer trace.Tracer

	mu       sync.Mutex
	inflight map[string]*spanEntry
}

// Tracing returns hooks that record an OpenTelemetry span per flow run, step
// and node execution.
func Tracing(t trace.Tracer) api.Hooks {
	tr := &tracer{tracer: t, inflight: make(map[string]*spanEntry)}
	return api.Hooks{
		BeforeFlow: tr.startFlow,
		AfterFlow:  func(hc api.HookContext) { tr.end(flowKey(hc), hc.Err) },
		BeforeStep: tr.startStep,
		AfterStep:  func(hc api.HookContext) { tr.end(stepKey(hc), hc.Err) },
		BeforeNode: tr.startNode,
		AfterNode:  func(hc api.HookContext) { tr.end(nodeKey(hc), hc.Err) },
		OnCost:     tr.cost,
	}
}

func flowKey(hc api.HookContext) string { return "flow:" + hc.RunID }
func stepKey(hc api.HookContext) string { return "step:" + hc.RunID + ":" + hc.StepName }
func nodeKey(hc api.HookContext) string {
	return "node:" + hc.RunID + ":" + hc.StepName + ":" + hc.NodeName
}

// parentCtx returns the context of the first in-flight key, or Background.
func (t *tracer) parentCtx(keys ...string) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		if e, ok := t.inflight[k]; ok {
			return e.ctx
		}
	}
	return context.Background()
}

func (t *tracer) start(parent context.Context, key, name string, attrs ...attribute.KeyValue) {
	ctx, span := t.tracer.Start(parent, name, trace.WithAttributes(attrs...))
	t.mu.Lock()
	t.inflight[key] = &spanEntry{span: span, ctx: ctx}
	t.mu.Unlock()
}

func (t *tracer) startFlow(hc api.HookContext) {
	var parents []string
	if i := strings.LastIndex(hc.RunID, "/"); i > 0 {
		parents = append(parents, "flow:"+hc.RunID[:i])
	}
	t.start(t.parentCtx(parents...), flowKey(hc), "cascade.flow",
		attribute.String("cascade.flow", hc.FlowName),
		attribute.String("cascade.run_id", hc.RunID),
	)
}

func (t *tracer) startStep(hc api.HookContext) {
	t.start(t.parentCtx(flowKey(hc)), stepKey(hc), "cascade.step",
		attribute.String("cascade.flow", hc.FlowName),
		attribute.String("cascade.run_id", hc.RunID),
		attribute.String("cascade.step", hc.StepName),
	)
}

func (t *tracer) startNode(hc api.HookContext) {
	// Compensations run after their step span ended; they hang off the flow.
	t.start(t.parentCtx(stepKey(hc), flowKey(hc)), nodeKey(hc), "cascade.node",
		attribute.String("cascade.flow", hc.FlowName),
		attribute.String("cascade.run_id", hc.RunID),
		attribute.String("cascade.step", hc.StepName),
		attribute.String("cascade.node", hc.NodeName),
	)
}

func (t *tracer) end(key string, err error) {
	t.mu.Lock()
	e, ok := t.inflight[key]
	if ok {
		delete(t.inflight, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if err != nil {
		e.span.RecordError(err)
		e.span.SetStatus(codes.Error, err.Error())
	} else {
		e.span.SetStatus(codes.Ok, "")
	}
	e.span.End()
}

// cost adds an event to the in-flight span of the reporting node, if any.
func (t *tracer) cost(c api.CostEntry) {
	t.mu.Lock()
	var target trace.Span
	for k, e := range t.inflight {
		if strings.HasPrefix(k, "node:") && strings.HasSuffix(k, ":"+c.NodeName) {
			target = e.span
			break
		}
	}
	t.mu.Unlock()
	if target == nil {
		return
	}
	target.AddEvent("cascade.cost", trace.WithAttributes(
		attribute.String("cascade.provider", c.Provider),
		attribute.String("cascade.model", c.Model),
		attribute.Int64("cascade.tokens_in", c.TokensIn),
		attribute.Int64("cascade.tokens_out", c.TokensOut),
		attribute.Float64("cascade.cost_usd", c.CostUSD),
	))
}
