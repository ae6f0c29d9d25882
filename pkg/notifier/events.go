package notifier

import (
	"sync"

	"github.com/poltergeist/packer-driver/pkg/logger"
	"github.com/poltergeist/packer-driver/pkg/types"
)

// Listener receives build events
type Listener func(event types.BuildEvent)

// Broadcaster delivers build events to subscribers synchronously, in
// subscription order. A panicking listener does not affect the others.
type Broadcaster struct {
	logger logger.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
	order     []int
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster(log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Broadcaster{
		logger:    log,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers listener and returns a function removing it
func (b *Broadcaster) Subscribe(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.listeners, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers event to every subscriber
func (b *Broadcaster) Publish(event types.BuildEvent) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		b.deliver(listener, event)
	}
}

func (b *Broadcaster) deliver(listener Listener, event types.BuildEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panic recovered",
				logger.WithField("event", event.Kind),
				logger.WithField("panic", r))
		}
	}()
	listener(event)
}
