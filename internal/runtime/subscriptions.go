package runtime

import (
	"sort"
	"sync"
	"time"

	idspkg "github.com/drblury/callflow/internal/runtime/ids"
)

// Subscription records a request waiting for the next event on one
// connection and event pair.
type Subscription struct {
	ID            string    `json:"id"`
	ConnectionKey string    `json:"connection_key"`
	EventName     string    `json:"event_name"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type subscriptionTable struct {
	mu      sync.Mutex
	entries map[string]Subscription
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{entries: make(map[string]Subscription)}
}

func (t *subscriptionTable) add(connectionKey, eventName, correlationID string) Subscription {
	now := time.Now()
	sub := Subscription{
		ID:            idspkg.NewAt(now),
		ConnectionKey: connectionKey,
		EventName:     eventName,
		CorrelationID: correlationID,
		CreatedAt:     now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[sub.ID] = sub
	return sub
}

func (t *subscriptionTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// drain removes every subscription for the pair and returns their
// correlation ids in creation order.
func (t *subscriptionTable) drain(connectionKey, eventName string) []string {
	t.mu.Lock()
	var drained []Subscription
	for id, sub := range t.entries {
		if sub.ConnectionKey == connectionKey && sub.EventName == eventName {
			drained = append(drained, sub)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	sortSubscriptions(drained)
	ids := make([]string, len(drained))
	for i, sub := range drained {
		ids[i] = sub.CorrelationID
	}
	return ids
}

// cancel removes every subscription recorded for correlationID.
func (t *subscriptionTable) cancel(correlationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, sub := range t.entries {
		if sub.CorrelationID == correlationID {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// sweep drops subscriptions created before cutoff.
func (t *subscriptionTable) sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, sub := range t.entries {
		if sub.CreatedAt.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *subscriptionTable) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.entries)
	t.entries = make(map[string]Subscription)
	return n
}

func (t *subscriptionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *subscriptionTable) snapshot() []Subscription {
	t.mu.Lock()
	out := make([]Subscription, 0, len(t.entries))
	for _, sub := range t.entries {
		out = append(out, sub)
	}
	t.mu.Unlock()

	sortSubscriptions(out)
	return out
}

// Subscription ids are monotonic ULIDs, so sorting by id is creation order.
func sortSubscriptions(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
}
