package events

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mezonai/stakepool/logx"
)

const subscriberBuffer = 64

type SubscriberID string

// Filter selects which events a subscriber receives. A nil filter receives
// everything.
type Filter func(LedgerEvent) bool

// ForActor only passes events of transactions signed by actor.
func ForActor(actor string) Filter {
	return func(e LedgerEvent) bool { return e.Actor() == actor }
}

type Subscriber struct {
	ID      SubscriberID
	Channel chan LedgerEvent
	filter  Filter
}

type EventBus struct {
	subscribers map[SubscriberID]*Subscriber
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[SubscriberID]*Subscriber),
	}
}

func (eb *EventBus) Subscribe(filter Filter) (SubscriberID, <-chan LedgerEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	ch := make(chan LedgerEvent, subscriberBuffer)
	eb.subscribers[id] = &Subscriber{ID: id, Channel: ch, filter: filter}

	logx.Info("EVENTBUS", fmt.Sprintf("Subscribed | subscriber_id=%s | total_subscribers=%d", id, len(eb.subscribers)))
	return id, ch
}

// Unsubscribe removes a subscription by ID and closes its channel.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscriber, exists := eb.subscribers[id]
	if !exists {
		logx.Warn("EVENTBUS", fmt.Sprintf("Attempted to unsubscribe non-existent subscriber | subscriber_id=%s", id))
		return false
	}
	delete(eb.subscribers, id)
	close(subscriber.Channel)

	logx.Info("EVENTBUS", fmt.Sprintf("Unsubscribed | subscriber_id=%s | remaining_subscribers=%d", id, len(eb.subscribers)))
	return true
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(event LedgerEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, subscriber := range eb.subscribers {
		if subscriber.filter != nil && !subscriber.filter(event) {
			continue
		}
		select {
		case subscriber.Channel <- event:
		default:
			logx.Warn("EVENTBUS", fmt.Sprintf("Subscriber channel full | subscriber_id=%s | tx_hash=%s", id, event.TxHash()))
		}
	}
}

func (eb *EventBus) GetTotalSubscriptions() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}
