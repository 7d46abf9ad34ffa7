package tables

import (
	"context"
	"sync"
)

// Feed fans row-level change events out to per-table subscribers.
// Subscribers with a full buffer are skipped rather than blocked, so a
// stalled consumer cannot hold up writers.
type Feed struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*feedSubscriber
	nextID      int64
	bufferSize  int
}

type feedSubscriber struct {
	id     int64
	stream chan Event
}

// NewFeed constructs a Feed with a small per-subscriber buffer.
func NewFeed() *Feed {
	return &Feed{
		subscribers: make(map[string]map[int64]*feedSubscriber),
		bufferSize:  32,
	}
}

// Subscribe registers interest in one table's change events. The
// returned cancel func releases the subscription; it also fires when
// the context is done.
func (f *Feed) Subscribe(ctx context.Context, table string) (<-chan Event, func()) {
	if table == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &feedSubscriber{
		id:     f.nextSequence(),
		stream: make(chan Event, f.bufferSize),
	}
	f.registerSubscriber(table, subscriber)
	cleanup := func() {
		f.unregisterSubscriber(table, subscriber.id)
	}
	// Background contexts report a nil Done channel; skip the watcher
	// so long-lived subscriptions do not pin a goroutine.
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			cleanup()
		}()
	}
	return subscriber.stream, cleanup
}

// Publish delivers the event to every subscriber of its table.
func (f *Feed) Publish(event Event) {
	if event.Table == "" || event.Type == "" {
		return
	}
	f.mu.RLock()
	subscribers := f.subscribers[event.Table]
	if len(subscribers) == 0 {
		f.mu.RUnlock()
		return
	}
	copies := make([]*feedSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	f.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (f *Feed) nextSequence() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

func (f *Feed) registerSubscriber(table string, subscriber *feedSubscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscribers[table]; !ok {
		f.subscribers[table] = make(map[int64]*feedSubscriber)
	}
	f.subscribers[table][subscriber.id] = subscriber
}

func (f *Feed) unregisterSubscriber(table string, subscriberID int64) {
	f.mu.Lock()
	subscribers := f.subscribers[table]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(f.subscribers, table)
		}
	}
	f.mu.Unlock()
}
