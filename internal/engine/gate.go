package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/petrijr/cascade/pkg/api"
)

// awaitGate suspends the run until the gate's signal arrives or its timeout
// elapses. The run is WAITING for the duration of the wait.
func (x *execution) awaitGate(ctx context.Context, s api.GateStep) error {
	cfg := s.Config
	logger := x.engine.logger.With(
		slog.String("flow", x.flow.Name()),
		slog.String("run_id", x.runID),
		slog.String("gate", s.Name),
	)

	x.setStatus(api.StatusWaiting)
	logger.DebugContext(ctx, "gate_state", slog.String("state", string(api.GateWaiting)))
	if x.onWait != nil {
		x.onWait(x.runID)
	}

	payload, ok, err := x.engine.sub.AwaitSignal(ctx, x.runID, cfg.SignalName, cfg.Timeout)
	x.setStatus(api.StatusRunning)
	if err != nil {
		return fmt.Errorf("gate %q: %w", s.Name, err)
	}
	if !ok {
		logger.DebugContext(ctx, "gate_state", slog.String("state", string(api.GateTimedOut)))
		return &api.GateTimeoutError{Gate: s.Name, Timeout: cfg.Timeout}
	}

	result, err := gateResultFrom(s.OutputKey(), payload)
	if err != nil {
		return err
	}
	x.state.Set(s.OutputKey(), result)
	logger.DebugContext(ctx, "gate_state",
		slog.String("state", string(api.GateResolved)),
		slog.Bool("approved", result.Approved),
	)

	if cfg.FailOnReject && !result.Approved {
		return &api.GateRejectedError{Gate: s.Name, Result: result}
	}
	return nil
}

func (x *execution) setStatus(st api.Status) {
	x.engine.runs.update(x.runID, func(r *api.Run) { r.Status = st })
}

// gateResultFrom accepts a GateResult, a non-nil *GateResult, or its JSON
// encoding.
func gateResultFrom(key string, payload any) (api.GateResult, error) {
	switch p := payload.(type) {
	case api.GateResult:
		return p, nil
	case *api.GateResult:
		if p != nil {
			return *p, nil
		}
	case []byte:
		var res api.GateResult
		if err := json.Unmarshal(p, &res); err != nil {
			return api.GateResult{}, fmt.Errorf("gate %q: decode signal payload: %w", key, err)
		}
		return res, nil
	case json.RawMessage:
		return gateResultFrom(key, []byte(p))
	}
	return api.GateResult{}, &api.TypeMismatchError{
		Key:  key,
		Want: "api.GateResult",
		Got:  fmt.Sprintf("%T", payload),
	}
}
