package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type subscription struct {
	collection string
	filter     Filter
	onChange   func([]Change)
}

// Broker fans committed changes out to subscribers. Backends publish after
// their write is durable and after releasing their own locks.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{subs: make(map[uint64]subscription), logger: logger}
}

func (b *Broker) Subscribe(ctx context.Context, collection string, filter Filter, onChange func([]Change)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{collection: collection, filter: filter, onChange: onChange}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			unsubscribe()
		}()
	}
	return unsubscribe
}

func (b *Broker) Publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		matched := make([]Change, 0, len(changes))
		for _, change := range changes {
			if change.Collection != sub.collection {
				continue
			}
			// deletes carry no body; every subscriber of the collection sees them
			if !change.Deleted && !sub.filter.Matches(change.Body) {
				continue
			}
			matched = append(matched, change)
		}
		if len(matched) > 0 {
			b.dispatch(sub, matched)
		}
	}
}

func (b *Broker) dispatch(sub subscription, changes []Change) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("collection", sub.collection),
				zap.Int("changes", len(changes)),
				zap.Any("panic", r),
			)
		}
	}()
	sub.onChange(changes)
}

func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
