package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind identifies how a flow is started.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerSchedule TriggerKind = "schedule"
	TriggerSignal   TriggerKind = "signal"
	TriggerWebhook  TriggerKind = "webhook"
)

// Trigger describes what starts a flow. It is a descriptor only; the
// process that serves webhooks or signals lives outside the engine.
type Trigger struct {
	Kind TriggerKind

	// Schedule is a standard 5-field cron expression (schedule triggers).
	Schedule string

	// SignalName is the starting signal (signal triggers).
	SignalName string

	// Path is the webhook route (webhook triggers).
	Path string

	schedule cron.Schedule
}

// Manual is started explicitly by application code.
func Manual() Trigger {
	return Trigger{Kind: TriggerManual}
}

// Schedule is started on a cron schedule.
func Schedule(expr string) Trigger {
	return Trigger{Kind: TriggerSchedule, Schedule: expr}
}

// OnSignal is started when the named signal is received.
func OnSignal(name string) Trigger {
	return Trigger{Kind: TriggerSignal, SignalName: name}
}

// Webhook is started by an HTTP request on path.
func Webhook(path string) Trigger {
	return Trigger{Kind: TriggerWebhook, Path: path}
}

// Validate checks the trigger's parameters. Schedule expressions are parsed
// and cached for Next.
func (t *Trigger) Validate() error {
	switch t.Kind {
	case TriggerManual:
		return nil
	case TriggerSchedule:
		if t.Schedule == "" {
			return errors.New("schedule trigger requires a cron expression")
		}
		sched, err := cron.ParseStandard(t.Schedule)
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", t.Schedule, err)
		}
		t.schedule = sched
		return nil
	case TriggerSignal:
		if t.SignalName == "" {
			return errors.New("signal trigger requires a signal name")
		}
		return nil
	case TriggerWebhook:
		if t.Path == "" {
			return errors.New("webhook trigger requires a path")
		}
		return nil
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// Next returns the first fire time strictly after after. ok is false for
// non-schedule triggers.
func (t Trigger) Next(after time.Time) (time.Time, bool) {
	if t.Kind != TriggerSchedule {
		return time.Time{}, false
	}
	sched := t.schedule
	if sched == nil {
		var err error
		sched, err = cron.ParseStandard(t.Schedule)
		if err != nil {
			return time.Time{}, false
		}
	}
	return sched.Next(after), true
}
