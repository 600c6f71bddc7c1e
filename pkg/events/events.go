package events

import (
	"sync"
	"time"

	"github.com/cuemby/corelink/pkg/types"
)

// EventType represents the kind of node-membership change carried by an Event.
type EventType string

const (
	EventNodeJoined EventType = "node.joined"
	EventNodeAlive  EventType = "node.alive"
	EventNodeDead   EventType = "node.dead"
	EventNodeLeft   EventType = "node.left"
)

// Event is a single membership change. NodeID is always set; Info carries
// the node record written by PutNode and is left zero for EventNodeLeft.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	NodeID    types.NodeID
	Info      types.NodeInfo
}

// Subscriber is a channel that receives node-change events. This is the
// subscription pkg/rpcpool.Membership.IsSubscribedToNodeChange reports on:
// a registry with no active Subscriber has not opted into reactive
// disconnects and the liveness callback must not be wired (spec.md §7
// MembershipSubscriptionMissing).
type Subscriber chan *Event

// Broker manages node-change subscriptions and distribution, adapted from
// the manager's cluster event broker to carry membership events only.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
