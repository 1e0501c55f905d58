// Package events publishes sync lifecycle notifications on an in-process bus.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gookitEvent "github.com/gookit/event"

	"github.com/gorillaerror/xui-central/internal/shared/logger"
)

// Event names fired by the sync coordinator.
const (
	ClientCreated = "client.created"
	ClientSynced  = "client.synced"
	ClientDeleted = "client.deleted"
	NodeResynced  = "node.resynced"
	NodePurged    = "node.purged"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	// ClientEmail is set for client.* events.
	ClientEmail string
	// NodeID is set for node.* events.
	NodeID int64
	// Status carries the fan-out outcome where one applies.
	Status string
}

// Handler consumes events.
type Handler func(ctx context.Context, ev Event) error

// Bus is a thin wrapper over gookit/event keeping subscriptions tracked
// so the bus can be drained on shutdown.
type Bus struct {
	manager *gookitEvent.Manager
	log     *logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewBus creates the event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		manager: gookitEvent.NewManager("xui-central"),
		log:     log.WithComponent("events"),
	}
}

func newEvent(eventType string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// ClientEvent builds a client lifecycle event.
func ClientEvent(eventType, email, status string) Event {
	ev := newEvent(eventType)
	ev.ClientEmail = email
	ev.Status = status
	return ev
}

// NodeEvent builds a node lifecycle event.
func NodeEvent(eventType string, nodeID int64, status string) Event {
	ev := newEvent(eventType)
	ev.NodeID = nodeID
	ev.Status = status
	return ev
}

// Publish fires an event. Handler errors are logged, never propagated,
// listeners must not be able to fail a sync operation.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	err, _ := b.manager.Fire(ev.Type, gookitEvent.M{"payload": ev})
	if err != nil {
		b.log.ErrorCtx(ctx, "event handler failed", err, "type", ev.Type, "id", ev.ID)
		return
	}
	b.log.DebugContext(ctx, "event published", "type", ev.Type, "id", ev.ID)
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		payload, ok := e.Get("payload").(Event)
		if !ok {
			return fmt.Errorf("unexpected event payload: %T", e.Get("payload"))
		}
		return handler(context.Background(), payload)
	})
	b.manager.On(eventType, listener, gookitEvent.Normal)
}

// Close drops all listeners.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.manager.Clear()
	return nil
}
