package storage

import (
	"sync"

	"github.com/lotas/tabgrouper/internal/applog"
)

const defaultDepth = 16

// Bus fans record changes out to subscribers. Publishing never blocks: a
// subscriber with a full buffer loses its oldest pending change so the
// newest value always gets through.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Record]struct{}
	depth int
}

// NewBus constructs a Bus.
func NewBus() *Bus {
	return &Bus{
		subs:  make(map[chan Record]struct{}),
		depth: defaultDepth,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// func that unregisters and closes it.
func (b *Bus) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, b.depth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	applog.Debug("bus.subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
			applog.Debug("bus.unsubscribe")
		})
	}
}

// Publish delivers rec to every subscriber.
func (b *Bus) Publish(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for sub := range b.subs {
		if offer(sub, rec) {
			dropped++
		}
	}
	if dropped > 0 {
		applog.Warn("bus.dropped", "key", rec.Key, "rev", rec.Rev, "subs", dropped)
	}
}

// offer sends rec on sub, evicting older entries until it fits.
func offer(sub chan Record, rec Record) (dropped bool) {
	for {
		select {
		case sub <- rec:
			return dropped
		default:
		}
		select {
		case <-sub:
			dropped = true
		default:
		}
	}
}
