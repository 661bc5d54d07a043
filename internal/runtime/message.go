/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runtime implements the cooperative per-thread event loop that
// every sync module runs on: a typed, pooled message bus, per-thread
// timers, user file-descriptor readiness and signal fan-out. Each Thread
// runs its callbacks serially on a single goroutine, so a thread never
// needs to lock its own state; cross-thread communication only ever
// happens through Send/SendWait/Reply.
package runtime

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolExhausted is returned by Alloc when the pool has no free slots.
// Callers are expected to drop the work and retry later, not block.
var ErrPoolExhausted = errors.New("runtime: message pool exhausted")

// ErrAlreadyOwned is returned when a message is freed or replied to twice.
var ErrAlreadyOwned = errors.New("runtime: message already returned to pool")

// PoolGlobal tags messages allocated from the shared, process-wide pool as
// opposed to a thread-private one. The core only ever uses one pool, but
// the tag is threaded through so a future per-thread pool can reuse the
// same envelope type.
const PoolGlobal = "global"

// ID identifies a message type. Sync modules define their own small,
// closed sets of IDs (see the syncmodule package).
type ID int

// Envelope is the fixed-size unit of the message bus. Ownership starts
// with whichever goroutine called Alloc and passes to the recipient of
// Send; the recipient must eventually call Free or Reply exactly once.
type Envelope struct {
	ID      ID
	Payload any

	pool        *Pool
	replyTarget *Thread
	needsReply  bool
	replyCh     chan *Envelope
	returned    bool
	mu          sync.Mutex
}

// markReturned flags the envelope consumed, returning ErrAlreadyOwned on
// a duplicate Free/Reply. This is what makes message conservation
// (§8 property 7) a checkable invariant instead of a convention.
func (e *Envelope) markReturned() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.returned {
		return ErrAlreadyOwned
	}
	e.returned = true
	return nil
}

// Pool is a fixed-capacity source of Envelopes. Allocating from an empty
// pool fails fast with ErrPoolExhausted rather than blocking the caller,
// since callers run on a cooperative loop that must not stall.
type Pool struct {
	mu       sync.Mutex
	free     chan struct{}
	size     int
	maxBytes int
}

// NewPool creates a pool with the given number of slots and the maximum
// payload size (in bytes) a sender may attach; maxBytes is advisory and
// enforced by EnsureSize, since Go payloads aren't laid out in a fixed
// buffer the way the original's arena-allocated messages are.
func NewPool(size, maxBytes int) *Pool {
	p := &Pool{
		free:     make(chan struct{}, size),
		size:     size,
		maxBytes: maxBytes,
	}
	for i := 0; i < size; i++ {
		p.free <- struct{}{}
	}
	return p
}

// Size returns the pool's total capacity.
func (p *Pool) Size() int { return p.size }

// Outstanding returns the number of envelopes currently allocated and not
// yet freed/replied.
func (p *Pool) Outstanding() int {
	return p.size - len(p.free)
}

// Alloc reserves a slot and returns a fresh Envelope, or ErrPoolExhausted
// if none are free.
func (p *Pool) Alloc(id ID, payload any) (*Envelope, error) {
	select {
	case <-p.free:
	default:
		return nil, ErrPoolExhausted
	}
	return &Envelope{ID: id, Payload: payload, pool: p}, nil
}

// EnsureSize validates payload size against the pool's configured maximum,
// mirroring the fixed-size message buffers of the original implementation.
func (p *Pool) EnsureSize(n int) error {
	if p.maxBytes > 0 && n > p.maxBytes {
		return fmt.Errorf("runtime: payload of %d bytes exceeds pool max %d", n, p.maxBytes)
	}
	return nil
}

func (p *Pool) release(e *Envelope) {
	select {
	case p.free <- struct{}{}:
	default:
		// pool was misconfigured/over-released; never block a thread on it.
	}
}

// Free returns the envelope to its pool. Freeing an envelope twice, or
// after Reply, is an error. Free does not check needsReply: freeing a
// message whose sender awaits a Reply succeeds, and no reply is sent.
func (e *Envelope) Free() error {
	if err := e.markReturned(); err != nil {
		return err
	}
	if e.pool != nil {
		e.pool.release(e)
	}
	return nil
}

// Reply routes the envelope back to the original sender's SendWait (or
// async reply channel) and then returns the slot to the pool.
func (e *Envelope) Reply(payload any) error {
	if err := e.markReturned(); err != nil {
		return err
	}
	e.Payload = payload
	if e.replyCh != nil {
		e.replyCh <- e
	}
	if e.pool != nil {
		e.pool.release(e)
	}
	return nil
}
