package events

import (
	"sync"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// EventBus fans pipeline events out to buffered subscriber channels. A full
// subscriber loses the event; publishing never blocks a tick.
type EventBus struct {
	byType     map[models.EventType][]chan *models.Event
	all        []chan *models.Event
	bufferSize int
	onDrop     func(models.EventType)
	mu         sync.RWMutex
	closed     bool
}

func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		byType:     make(map[models.EventType][]chan *models.Event),
		bufferSize: bufferSize,
	}
}

// OnDrop registers a hook called for every event a full subscriber missed.
func (b *EventBus) OnDrop(fn func(models.EventType)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

func (b *EventBus) Subscribe(eventType models.EventType) <-chan *models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *models.Event, b.bufferSize)
	b.byType[eventType] = append(b.byType[eventType], ch)
	return ch
}

func (b *EventBus) SubscribeAll() <-chan *models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *models.Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

func (b *EventBus) Publish(event *models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.byType[event.Type] {
		b.deliver(ch, event)
	}
	for _, ch := range b.all {
		b.deliver(ch, event)
	}
}

// deliver is called with b.mu held for reading.
func (b *EventBus) deliver(ch chan *models.Event, event *models.Event) {
	select {
	case ch <- event:
	default:
		logger.WithPool(event.PoolID).Warnf("Event subscriber full, dropping %s", event.Type)
		if b.onDrop != nil {
			b.onDrop(event.Type)
		}
	}
}

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, subscribers := range b.byType {
		for _, ch := range subscribers {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}

	b.byType = nil
	b.all = nil
}
