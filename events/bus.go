package events

import (
	"fmt"
	"sync"

	"github.com/Raytar/helpqueue/metrics"
	"github.com/Raytar/helpqueue/observability"
	"github.com/sirupsen/logrus"
)

type Handler func(Event)

type subscription struct {
	id      uint64
	topics  map[Topic]bool
	handler Handler
}

// Bus delivers events synchronously to every matching subscriber.
type Bus struct {
	log *logrus.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription
}

func NewBus(log *logrus.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers h for the given topics, or for every topic if none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, topics ...Topic) (unsubscribe func()) {
	s := &subscription{handler: h}
	if len(topics) > 0 {
		s.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			s.topics[t] = true
		}
	}
	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.id != id {
			subs = append(subs, s)
		}
	}
	b.subs = subs
}

// Publish delivers e to the subscribers registered when it is called.
// A panicking handler is logged and does not affect other handlers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(e.Topic)).Inc()
	for _, s := range subs {
		if s.topics != nil && !s.topics[e.Topic] {
			continue
		}
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanics.Inc()
			observability.CaptureWithTags(fmt.Errorf("event handler panicked: %v", r), map[string]string{"topic": string(e.Topic)})
			b.log.WithField("topic", e.Topic).Errorln("Event handler panicked:", fmt.Sprint(r))
		}
	}()
	s.handler(e)
}

// Channel subscribes a buffered channel to the given topics. Events that do
// not fit in the buffer are dropped. The channel is closed by unsubscribe.
func (b *Bus) Channel(buf int, topics ...Topic) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	var mu sync.Mutex
	closed := false
	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues(string(e.Topic)).Inc()
			b.log.WithField("topic", e.Topic).Warnln("Dropped event for slow subscriber")
		}
	}, topics...)
	return ch, func() {
		unsub()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}
