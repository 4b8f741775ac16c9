package chat

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 64

// Hub fans out appended messages to live subscribers of an order's chat
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription receives the messages published for one order
type Subscription struct {
	hub     *Hub
	orderID string
	ch      chan Message
	closed  bool
}

// C is closed when the subscription ends, either through Close or because the
// subscriber fell too far behind.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) Subscribe(orderID string) *Subscription {
	sub := &Subscription{
		hub:     h,
		orderID: orderID,
		ch:      make(chan Message, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[orderID] == nil {
		h.subscribers[orderID] = make(map[*Subscription]struct{})
	}
	h.subscribers[orderID][sub] = struct{}{}
	return sub
}

// Publish never blocks. Subscribers whose buffer is full are dropped.
func (h *Hub) Publish(msg Message) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subscribers[msg.OrderID] {
		select {
		case sub.ch <- msg:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		log.Warn().
			Str("order_id", msg.OrderID).
			Str("component", "chat_hub").
			Msg("dropping slow chat subscriber")
		h.remove(sub)
	}
}

// Subscribers returns the number of live subscriptions for an order
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[orderID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	delete(h.subscribers[sub.orderID], sub)
	if len(h.subscribers[sub.orderID]) == 0 {
		delete(h.subscribers, sub.orderID)
	}
}
