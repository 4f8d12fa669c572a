// Package events turns committed writes into refreshed snapshots for any
// number of watchers.
package events

import (
	"context"
	"sync"

	EventBus "github.com/asaskevich/EventBus"
)

type Topic string

const (
	TopicProducts   Topic = "products"
	TopicCategories Topic = "categories"
	TopicSales      Topic = "sales"
)

var AllTopics = []Topic{TopicProducts, TopicCategories, TopicSales}

// Hub subscribes to the bus once per topic and fans each event out to its
// own watcher registry. EventBus unsubscribes by handler identity, which
// does not work for per-watcher closures.
type Hub struct {
	bus EventBus.Bus

	mu       sync.Mutex
	nextID   uint64
	watchers map[Topic]map[uint64]chan struct{}
}

func NewHub() *Hub {
	h := &Hub{
		bus:      EventBus.New(),
		watchers: make(map[Topic]map[uint64]chan struct{}, len(AllTopics)),
	}
	for _, topic := range AllTopics {
		topic := topic
		h.watchers[topic] = make(map[uint64]chan struct{})
		_ = h.bus.Subscribe(string(topic), func() { h.fanout(topic) })
	}
	return h
}

// Publish signals that the given tables changed.
func (h *Hub) Publish(topics ...Topic) {
	for _, topic := range topics {
		if h.bus.HasCallback(string(topic)) {
			h.bus.Publish(string(topic))
		}
	}
}

func (h *Hub) fanout(topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.watchers[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// register attaches ch to every topic and returns the matching detach func.
func (h *Hub) register(ch chan struct{}, topics []Topic) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	for _, topic := range topics {
		if _, ok := h.watchers[topic]; !ok {
			continue
		}
		h.watchers[topic][id] = ch
	}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, topic := range topics {
			delete(h.watchers[topic], id)
		}
	}
}

func (h *Hub) Watchers(topic Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[topic])
}

type Snapshot[T any] struct {
	Value T
	Err   error
}

// Watch delivers fetch's result once immediately and again after every
// change on topics. Changes that arrive while a snapshot is pending are
// coalesced into one refetch. The channel closes when ctx is done.
func Watch[T any](ctx context.Context, h *Hub, fetch func(context.Context) (T, error), topics ...Topic) <-chan Snapshot[T] {
	out := make(chan Snapshot[T], 1)
	signal := make(chan struct{}, 1)
	detach := h.register(signal, topics)

	go func() {
		defer close(out)
		defer detach()

		for {
			value, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Snapshot[T]{Value: value, Err: err}:
			case <-ctx.Done():
				return
			}

			select {
			case <-signal:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
