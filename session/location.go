package session

import (
	"context"
	"sync"
	"time"
)

// Locations is the single stream of location changes. History, PopState
// and Poller are the producers feeding it; Tracker.Run is the consumer.
type Locations struct {
	ch        chan string
	closeOnce sync.Once
}

func NewLocations(buffer int) *Locations {
	return &Locations{ch: make(chan string, buffer)}
}

func (l *Locations) C() <-chan string {
	return l.ch
}

// Emit queues location, giving up when ctx is done.
func (l *Locations) Emit(ctx context.Context, location string) bool {
	select {
	case l.ch <- location:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. Emitting after Close panics.
func (l *Locations) Close() {
	l.closeOnce.Do(func() { close(l.ch) })
}

// History reports programmatic navigation (push/replace of the current entry).
type History struct {
	out *Locations
}

func NewHistory(out *Locations) *History {
	return &History{out: out}
}

func (h *History) PushState(ctx context.Context, location string) {
	h.out.Emit(ctx, location)
}

func (h *History) ReplaceState(ctx context.Context, location string) {
	h.out.Emit(ctx, location)
}

// PopState reports back/forward navigation.
type PopState struct {
	out *Locations
}

func NewPopState(out *Locations) *PopState {
	return &PopState{out: out}
}

func (p *PopState) Pop(ctx context.Context, location string) {
	p.out.Emit(ctx, location)
}

// Poller catches navigation the other producers miss by sampling the
// current location at a fixed interval.
type Poller struct {
	out      *Locations
	current  func() string
	interval time.Duration
}

func NewPoller(out *Locations, current func() string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{out: out, current: current, interval: interval}
}

// Run samples until ctx is done, emitting only when the location differs
// from the previous sample.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.current()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			location := p.current()
			if location == last {
				continue
			}
			last = location
			if !p.out.Emit(ctx, location) {
				return
			}
		}
	}
}
