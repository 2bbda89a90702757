package notify

import (
	"sync"

	"github.com/google/uuid"
)

type Kind string

const (
	KindLowBalance    Kind = "low_balance"
	KindBlocked       Kind = "blocked"
	KindProviderError Kind = "provider_error"
)

// Event is pushed to presentation layers so they can react to gateway
// outcomes (warning banners, disabled buttons) without polling.
type Event struct {
	AccountID string `json:"account_id"`
	Kind      Kind   `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	Balance   int64  `json:"balance,omitempty"`
}

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// Broadcaster is an in-memory fan-out of gateway events, keyed by
// account. Publish never blocks: events are dropped for subscribers
// whose channels are full.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // accountID -> subID -> ch
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
	}
}

// Subscribe registers for events on the given account. The returned
// function removes the subscription and closes the channel; calling it
// more than once is safe.
func (b *Broadcaster) Subscribe(accountID string) (<-chan Event, func()) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[accountID]; !ok {
		b.subscribers[accountID] = make(map[string]chan Event)
	}
	b.subscribers[accountID][subID] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs, ok := b.subscribers[accountID]
			if !ok {
				return
			}
			delete(subs, subID)
			if len(subs) == 0 {
				delete(b.subscribers, accountID)
			}
			close(ch)
		})
	}

	return ch, unsubscribe
}

// Publish delivers an event to every subscriber of its account. Sends
// happen under the read lock so a concurrent unsubscribe cannot close a
// channel mid-send; they never block because channels are buffered and
// full buffers drop.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.AccountID] {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than block the gateway.
		}
	}
}
