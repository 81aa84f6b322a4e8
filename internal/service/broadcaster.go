package service

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"context-sync-server/internal/domain"
	"context-sync-server/internal/telemetry"
)

// Broadcaster fans state changes out to in-process subscribers. Delivery
// is non-blocking: a subscriber whose buffer is full is dropped and its
// channel closed, so one stalled consumer never backs up the rest.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan domain.StateChange
	buffer      int
	logger      *zap.Logger
}

func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subscribers: make(map[string]chan domain.StateChange),
		buffer:      buffer,
		logger:      logger,
	}
}

func (b *Broadcaster) Subscribe() (string, <-chan domain.StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan domain.StateChange, b.buffer)
	b.subscribers[id] = ch
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, id)
	}
	delete(b.subscribers, id)
	close(ch)
	return nil
}

func (b *Broadcaster) Broadcast(change domain.StateChange) {
	var stalled []string

	b.mu.RLock()
	for id, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
			stalled = append(stalled, id)
		}
	}
	b.mu.RUnlock()

	if len(stalled) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range stalled {
		ch, ok := b.subscribers[id]
		if !ok {
			continue
		}
		delete(b.subscribers, id)
		close(ch)
		telemetry.DroppedSubscribers.Inc()
		b.logger.Warn("dropping slow change subscriber",
			zap.String("subscription_id", id),
			zap.Int("buffer", b.buffer),
		)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close drops every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
