package hooks

import (
	"context"
	"log/slog"

	"github.com/petrijr/cascade/pkg/api"
)

// Logging returns hooks that write flow, step and node lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
//
// Flow events log at Info (Error on failure); step and node events log at
// Debug (Error on failure).
func Logging(logger *slog.Logger) api.Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := context.Background()

	return api.Hooks{
		BeforeFlow: func(hc api.HookContext) {
			logger.InfoContext(ctx, "flow_start",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
			)
		},
		AfterFlow: func(hc api.HookContext) {
			if hc.Err != nil {
				logger.ErrorContext(ctx, "flow_failed",
					slog.String("flow", hc.FlowName),
					slog.String("run_id", hc.RunID),
					slog.Duration("duration", hc.Duration),
					slog.Any("error", hc.Err),
				)
				return
			}
			logger.InfoContext(ctx, "flow_completed",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
				slog.Duration("duration", hc.Duration),
			)
		},
		BeforeStep: func(hc api.HookContext) {
			logger.DebugContext(ctx, "step_start",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
				slog.String("step", hc.StepName),
			)
		},
		AfterStep: func(hc api.HookContext) {
			logger.Log(ctx, levelFor(hc.Err), "step_completed",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
				slog.String("step", hc.StepName),
				slog.Duration("duration", hc.Duration),
				slog.Any("error", hc.Err),
			)
		},
		BeforeNode: func(hc api.HookContext) {
			logger.DebugContext(ctx, "node_start",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
				slog.String("step", hc.StepName),
				slog.String("node", hc.NodeName),
			)
		},
		AfterNode: func(hc api.HookContext) {
			logger.Log(ctx, levelFor(hc.Err), "node_completed",
				slog.String("flow", hc.FlowName),
				slog.String("run_id", hc.RunID),
				slog.String("step", hc.StepName),
				slog.String("node", hc.NodeName),
				slog.Duration("duration", hc.Duration),
				slog.Any("error", hc.Err),
			)
		},
		OnCost: func(c api.CostEntry) {
			logger.InfoContext(ctx, "node_cost",
				slog.String("node", c.NodeName),
				slog.String("provider", c.Provider),
				slog.String("model", c.Model),
				slog.Int64("tokens_in", c.TokensIn),
				slog.Int64("tokens_out", c.TokensOut),
				slog.Float64("cost_usd", c.CostUSD),
			)
		},
	}
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelError
	}
	return slog.LevelDebug
}
