// Package memory keeps the most recent published events in process. It
// stands in for Pub/Sub when no topic is configured so operators can still
// see what each round fetched.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/fedisync/internal/clock"
)

// DefaultCapacity is the number of events retained when none is given.
const DefaultCapacity = 100

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID          string    `json:"id"`
	Event       string    `json:"event"`
	Payload     any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher retains the last capacity events, dropping the oldest first.
type Publisher struct {
	clock    clock.Clock
	capacity int

	mu       sync.RWMutex
	seq      int64
	messages []PublishedMessage
}

// New returns a Publisher retaining up to capacity events.
func New(capacity int, clk clock.Clock) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Publisher{clock: clk, capacity: capacity}
}

// Publish records the event and returns its sequence id.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish %s: %w", event, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := PublishedMessage{
		ID:          fmt.Sprintf("memory-%d", p.seq),
		Event:       event,
		Payload:     payload,
		PublishedAt: p.clock.Now(),
	}
	if len(p.messages) == p.capacity {
		copy(p.messages, p.messages[1:])
		p.messages = p.messages[:len(p.messages)-1]
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns the retained events, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Recent returns the retained events, newest first.
func (p *Publisher) Recent() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, 0, len(p.messages))
	for i := len(p.messages) - 1; i >= 0; i-- {
		out = append(out, p.messages[i])
	}
	return out
}
