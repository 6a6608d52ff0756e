package api

import "time"

// HookContext describes the transition a hook is called for. Before* hooks
// receive a zero Duration and nil Err.
type HookContext struct {
	FlowName string
	RunID    string
	StepName string
	NodeName string
	Duration time.Duration
	Err      error
}

// CostEntry is usage accounting reported by a node output.
type CostEntry struct {
	NodeName  string
	Model     string
	Provider  string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
	Duration  time.Duration
	Metadata  map[string]string
}

// Hooks are optional lifecycle callbacks. They run synchronously on the
// engine's goroutines and must not perform external I/O.
type Hooks struct {
	BeforeFlow func(HookContext)
	AfterFlow  func(HookContext)
	BeforeStep func(HookContext)
	AfterStep  func(HookContext)
	BeforeNode func(HookContext)
	AfterNode  func(HookContext)
	OnCost     func(CostEntry)
}

// IsZero reports whether no callback is set.
func (h Hooks) IsZero() bool {
	return h.BeforeFlow == nil && h.AfterFlow == nil &&
		h.BeforeStep == nil && h.AfterStep == nil &&
		h.BeforeNode == nil && h.AfterNode == nil &&
		h.OnCost == nil
}

// MergeHooks fans each callback out to every non-nil callback in hs, in
// argument order.
func MergeHooks(hs ...Hooks) Hooks {
	var set []Hooks
	for _, h := range hs {
		if !h.IsZero() {
			set = append(set, h)
		}
	}
	switch len(set) {
	case 0:
		return Hooks{}
	case 1:
		return set[0]
	}

	pick := func(sel func(Hooks) func(HookContext)) func(HookContext) {
		var fns []func(HookContext)
		for _, h := range set {
			if fn := sel(h); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(hc HookContext) {
			for _, fn := range fns {
				fn(hc)
			}
		}
	}

	var costFns []func(CostEntry)
	for _, h := range set {
		if h.OnCost != nil {
			costFns = append(costFns, h.OnCost)
		}
	}
	var onCost func(CostEntry)
	if len(costFns) > 0 {
		onCost = func(c CostEntry) {
			for _, fn := range costFns {
				fn(c)
			}
		}
	}

	return Hooks{
		BeforeFlow: pick(func(h Hooks) func(HookContext) { return h.BeforeFlow }),
		AfterFlow:  pick(func(h Hooks) func(HookContext) { return h.AfterFlow }),
		BeforeStep: pick(func(h Hooks) func(HookContext) { return h.BeforeStep }),
		AfterStep:  pick(func(h Hooks) func(HookContext) { return h.AfterStep }),
		BeforeNode: pick(func(h Hooks) func(HookContext) { return h.BeforeNode }),
		AfterNode:  pick(func(h Hooks) func(HookContext) { return h.AfterNode }),
		OnCost:     onCost,
	}
}

// HookDispatcher invokes Hooks. The zero value and a nil pointer are valid
// and dispatch nothing.
type HookDispatcher struct {
	hooks Hooks
}

// NewHookDispatcher returns a dispatcher over the merged hs.
func NewHookDispatcher(hs ...Hooks) *HookDispatcher {
	return &HookDispatcher{hooks: MergeHooks(hs...)}
}

func (d *HookDispatcher) BeforeFlow(hc HookContext) {
	if d != nil && d.hooks.BeforeFlow != nil {
		d.hooks.BeforeFlow(hc)
	}
}

func (d *HookDispatcher) AfterFlow(hc HookContext) {
	if d != nil && d.hooks.AfterFlow != nil {
		d.hooks.AfterFlow(hc)
	}
}

func (d *HookDispatcher) BeforeStep(hc HookContext) {
	if d != nil && d.hooks.BeforeStep != nil {
		d.hooks.BeforeStep(hc)
	}
}

func (d *HookDispatcher) AfterStep(hc HookContext) {
	if d != nil && d.hooks.AfterStep != nil {
		d.hooks.AfterStep(hc)
	}
}

func (d *HookDispatcher) BeforeNode(hc HookContext) {
	if d != nil && d.hooks.BeforeNode != nil {
		d.hooks.BeforeNode(hc)
	}
}

func (d *HookDispatcher) AfterNode(hc HookContext) {
	if d != nil && d.hooks.AfterNode != nil {
		d.hooks.AfterNode(hc)
	}
}

func (d *HookDispatcher) OnCost(c CostEntry) {
	if d != nil && d.hooks.OnCost != nil {
		d.hooks.OnCost(c)
	}
}
