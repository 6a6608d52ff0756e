// Package hooks provides ready-made api.Hooks sets: structured logging,
// in-memory counters, Prometheus collectors and OpenTelemetry spans.
//
// Hook sets are combined with api.MergeHooks and passed to the engine or to
// a single flow:
//
//	metrics := hooks.NewBasicMetrics()
//	runner := cascade.NewLocalRunner(
//		cascade.WithHooks(api.MergeHooks(hooks.Logging(logger), metrics.Hooks())),
//	)
//
// All callbacks are synchronous and in-process.
package hooks
