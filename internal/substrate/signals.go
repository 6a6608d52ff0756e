package substrate

import (
	"context"
	"sync"
	"time"
)

type signalKey struct {
	run  string
	name string
}

// signalBus matches deliveries to waiters per (run, signal). Deliveries
// without a waiter are queued in arrival order.
type signalBus struct {
	mu      sync.Mutex
	queued  map[signalKey][]any
	waiters map[signalKey][]chan any
}

func newSignalBus() *signalBus {
	return &signalBus{
		queued:  make(map[signalKey][]any),
		waiters: make(map[signalKey][]chan any),
	}
}

func (b *signalBus) deliver(run, name string, payload any) {
	key := signalKey{run: run, name: name}

	b.mu.Lock()
	defer b.mu.Unlock()

	if ws := b.waiters[key]; len(ws) > 0 {
		ch := ws[0]
		b.setWaiters(key, ws[1:])
		ch <- payload
		return
	}
	b.queued[key] = append(b.queued[key], payload)
}

func (b *signalBus) await(ctx context.Context, run, name string, timeout time.Duration) (any, bool, error) {
	key := signalKey{run: run, name: name}

	b.mu.Lock()
	if q := b.queued[key]; len(q) > 0 {
		payload := q[0]
		if len(q) == 1 {
			delete(b.queued, key)
		} else {
			b.queued[key] = q[1:]
		}
		b.mu.Unlock()
		return payload, true, nil
	}
	ch := make(chan any, 1)
	b.waiters[key] = append(b.waiters[key], ch)
	b.mu.Unlock()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case payload := <-ch:
		return payload, true, nil
	case <-timerC:
		if payload, delivered := b.cancelWait(key, ch); delivered {
			return payload, true, nil
		}
		return nil, false, nil
	case <-ctx.Done():
		if payload, delivered := b.cancelWait(key, ch); delivered {
			return payload, true, nil
		}
		return nil, false, ctx.Err()
	}
}

// cancelWait unregisters ch. If a delivery already claimed ch, that payload
// is returned so it is not lost.
func (b *signalBus) cancelWait(key signalKey, ch chan any) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ws := b.waiters[key]
	for i, w := range ws {
		if w == ch {
			b.setWaiters(key, append(ws[:i:i], ws[i+1:]...))
			return nil, false
		}
	}
	return <-ch, true
}

func (b *signalBus) setWaiters(key signalKey, ws []chan any) {
	if len(ws) == 0 {
		delete(b.waiters, key)
		return
	}
	b.waiters[key] = ws
}

func (b *signalBus) pending(run, name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued[signalKey{run: run, name: name}])
}

func (b *signalBus) forget(run string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.queued {
		if k.run == run {
			delete(b.queued, k)
		}
	}
}
