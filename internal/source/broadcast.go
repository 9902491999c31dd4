// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"sync"
	"sync/atomic"
)

// Broadcast fans values out to subscribers over bounded queues. A full queue
// drops its oldest value and the subscriber is told how many it missed; the
// publisher never blocks.
type Broadcast[T any] struct {
	mu       sync.Mutex
	capacity int
	subs     map[uint64]*Subscription[T]
	nextID   uint64
	closed   bool
	onLag    func(dropped uint64)
}

// NewBroadcast creates a broadcast whose subscribers buffer capacity values.
func NewBroadcast[T any](capacity int) *Broadcast[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcast[T]{capacity: capacity, subs: make(map[uint64]*Subscription[T])}
}

// OnLag registers a hook called, with the broadcast lock held, whenever a
// value is dropped for a slow subscriber.
func (b *Broadcast[T]) OnLag(fn func(dropped uint64)) {
	b.mu.Lock()
	b.onLag = fn
	b.mu.Unlock()
}

// Subscribe attaches a new subscriber. Subscribing to a closed broadcast
// returns a subscription that is already closed.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription[T]{b: b, id: b.nextID, ch: make(chan T, b.capacity)}
	b.nextID++
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers v to every subscriber and returns how many received it.
func (b *Broadcast[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	for _, s := range b.subs {
		for {
			select {
			case s.ch <- v:
			default:
				// Full: evict the oldest value, unless the reader just took it.
				select {
				case <-s.ch:
					s.lagged.Add(1)
					if b.onLag != nil {
						b.onLag(1)
					}
				default:
				}
				continue
			}
			break
		}
	}
	return len(b.subs)
}

// Len returns the number of live subscribers.
func (b *Broadcast[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches and closes every subscriber.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Subscription is one receiver of a Broadcast.
type Subscription[T any] struct {
	b      *Broadcast[T]
	id     uint64
	ch     chan T
	lagged atomic.Uint64
}

// C exposes the queue for select loops. Callers should check TakeLagged
// after every receive.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// TakeLagged returns and resets the number of values dropped since the
// last call.
func (s *Subscription[T]) TakeLagged() uint64 { return s.lagged.Swap(0) }

// Recv waits for the next value. A pending drop count is reported first as
// a Lagged error; the following Recv continues with the oldest retained
// value.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if n := s.TakeLagged(); n > 0 {
		return zero, Lagged{N: n}
	}
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close detaches the subscriber. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}
