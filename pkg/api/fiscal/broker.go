package fiscal

import (
	"sync"

	"fiscal_notes/pkg/core/pipeline"
)

// historyCap bounds the replay buffer per bill. A full pipeline run emits
// well under this; the cap only guards against a pathological publisher.
const historyCap = 256

// Broker fans pipeline progress events out to SSE subscribers, keyed by
// bill. Publish matches the orchestrator's Progress callback signature, so
// the server wires it straight into pipeline.Options. Subscribers joining
// mid-run first receive the recorded history of the current run, then live
// events.
type Broker struct {
	mu      sync.Mutex
	subs    map[string]map[chan pipeline.Event]struct{}
	history map[string][]pipeline.Event
}

func NewBroker() *Broker {
	return &Broker{
		subs:    map[string]map[chan pipeline.Event]struct{}{},
		history: map[string][]pipeline.Event{},
	}
}

// Publish records ev and delivers it to every subscriber of the bill. A
// subscriber that cannot keep up misses events rather than blocking the
// pipeline. A pipeline-start event resets the bill's history, so replays
// always describe the current run.
func (b *Broker) Publish(bill string, ev pipeline.Event) {
	b.mu.Lock()
	if ev.Step == "pipeline" && ev.Status == "running" {
		b.history[bill] = nil
	}
	if len(b.history[bill]) < historyCap {
		b.history[bill] = append(b.history[bill], ev)
	}
	targets := make([]chan pipeline.Event, 0, len(b.subs[bill]))
	for ch := range b.subs[bill] {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel carrying the bill's recorded history followed
// by live events, and a cancel func the caller must invoke when done.
func (b *Broker) Subscribe(bill string) (<-chan pipeline.Event, func()) {
	ch := make(chan pipeline.Event, historyCap)

	b.mu.Lock()
	for _, ev := range b.history[bill] {
		ch <- ev
	}
	if b.subs[bill] == nil {
		b.subs[bill] = map[chan pipeline.Event]struct{}{}
	}
	b.subs[bill][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs[bill], ch)
		if len(b.subs[bill]) == 0 {
			delete(b.subs, bill)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
