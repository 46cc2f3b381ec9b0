package stream

import (
	"context"
	"sync"
	"time"

	"keygate.org/internal/gateway"
)

// GrantEvent describes a grant committed to the permission ledger,
// as delivered to live subscribers (SSE clients, indexers).
type GrantEvent struct {
	DocumentID        gateway.DocumentID `json:"document_id"`
	ConditionContract gateway.Address    `json:"condition_contract"`
	Beneficiary       gateway.Address    `json:"beneficiary"`
	FeeWei            gateway.Wei        `json:"fee_wei"`
	Sequence          uint64             `json:"sequence"`
	Kind              string             `json:"kind"`
	Timestamp         time.Time          `json:"timestamp"`
}

// FromGrant builds the event for a committed grant. kind matches the
// grant-counter labels: "direct", "payment", "nft", "erc1155", "dao".
func FromGrant(g gateway.Grant, kind string) GrantEvent {
	return GrantEvent{
		DocumentID:        g.DocumentID,
		ConditionContract: g.ConditionContract,
		Beneficiary:       g.Beneficiary,
		FeeWei:            g.FeeWei,
		Sequence:          g.Sequence,
		Kind:              kind,
		Timestamp:         g.CreatedAt,
	}
}

// Stream fan-outs grant events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan GrantEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan GrantEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan GrantEvent {
	ch := make(chan GrantEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt GrantEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
