// Package broker provides the broadcast backends carrying live candle
// updates from the poller to session bridges: an in-process fan-out for
// single-process deployments and a Redis Pub/Sub bridge for multi-process
// ones. Both satisfy model.Broker.
package broker

import (
	"context"
	"errors"
	"sync"

	"trademind/internal/model"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// ErrClosed is returned by Publish and Subscribe after the broker shut down.
var ErrClosed = errors.New("broker: closed")

// Fanout broadcasts stream messages to every subscriber in-process. If a
// subscriber's channel is full the message is dropped for that subscriber,
// so a slow consumer never blocks the publisher.
type Fanout struct {
	bufSize int

	// OnDrop, when set, is called once per message dropped for a slow
	// subscriber.
	OnDrop func()

	mu     sync.RWMutex
	subs   map[*fanoutSub]struct{}
	closed bool
}

// NewFanout creates a fan-out broker with the given per-subscriber buffer
// size (DefaultSubscriberBuffer when <= 0).
func NewFanout(bufSize int) *Fanout {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Fanout{
		bufSize: bufSize,
		subs:    make(map[*fanoutSub]struct{}),
	}
}

// Publish delivers msg to every current subscriber, dropping it for any
// whose buffer is full.
func (f *Fanout) Publish(ctx context.Context, msg model.StreamMessage) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	for sub := range f.subs {
		select {
		case sub.ch <- msg:
		default:
			if f.OnDrop != nil {
				f.OnDrop()
			}
		}
	}
	return nil
}

// Subscribe registers a new subscriber and returns its subscription.
func (f *Fanout) Subscribe(ctx context.Context) (model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	sub := &fanoutSub{f: f, ch: make(chan model.StreamMessage, f.bufSize)}
	f.subs[sub] = struct{}{}
	return sub, nil
}

// Close shuts the broker down and closes every subscriber channel.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for sub := range f.subs {
		close(sub.ch)
		delete(f.subs, sub)
	}
	return nil
}

// SubscriberCount returns the number of registered subscribers.
func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

type fanoutSub struct {
	f    *Fanout
	ch   chan model.StreamMessage
	once sync.Once
}

func (s *fanoutSub) C() <-chan model.StreamMessage { return s.ch }

// Close deregisters the subscription and closes its channel. Safe to call
// more than once and concurrently with Publish.
func (s *fanoutSub) Close() {
	s.once.Do(func() {
		s.f.mu.Lock()
		defer s.f.mu.Unlock()
		if _, ok := s.f.subs[s]; !ok {
			return // broker Close already released us
		}
		delete(s.f.subs, s)
		close(s.ch)
	})
}
