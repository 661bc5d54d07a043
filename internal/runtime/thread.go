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

package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Callbacks bundles the handlers a Thread dispatches to. Every callback
// must return promptly: the loop below is strictly single-threaded, so a
// slow on_message callback starves that thread's timers and fds until it
// returns, exactly as in the cooperative source this emulates.
type Callbacks struct {
	OnStartup  func() error
	OnShutdown func()
	OnMessage  func(*Envelope)
	OnUserFDs  func(ready []int)
	OnTimer    func(id int)
	OnSignal   func(sig int)
}

// Thread is one cooperative event loop: on its own goroutine it waits in
// a single select on its message queue, its fired timers, its ready
// file-descriptors, its delivered signals and its shutdown request, and
// dispatches one event at a time. When several sources are ready at
// once, select picks among them at random, so no source has a fixed
// priority over another; messages are still dispatched in the order they
// were queued. Multiple Threads run
// concurrently, but within a single Thread callbacks are always
// serialized, so Thread-owned state needs no locking of its own.
type Thread struct {
	name  string
	cb    Callbacks
	inbox chan *Envelope

	timers   *timerSet
	userFDs  *fdSet
	signals  *signalSet

	done   chan struct{}
	exited chan error
	once   sync.Once
}

// NewThread creates a Thread bound to the given callback set. The thread
// does not start running until Start is called.
func NewThread(name string, cb Callbacks) *Thread {
	return &Thread{
		name:    name,
		cb:      cb,
		inbox:   make(chan *Envelope, 256),
		timers:  newTimerSet(),
		userFDs: newFDSet(),
		signals: newSignalSet(),
		done:    make(chan struct{}),
		exited:  make(chan error, 1),
	}
}

// Name returns the thread's diagnostic name.
func (t *Thread) Name() string { return t.name }

// Start runs the thread's loop on a new goroutine. If OnStartup returns a
// non-nil error the thread exits immediately without entering the loop;
// the error is delivered through Join, mirroring "a thread that returns
// from on_startup with non-zero exits immediately".
func (t *Thread) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *Thread) run(ctx context.Context) {
	if t.cb.OnStartup != nil {
		if err := t.cb.OnStartup(); err != nil {
			log.Errorf("thread %s: startup failed: %v", t.name, err)
			t.exited <- err
			return
		}
	}

	fdReady := t.userFDs.readyChan()
	sigReady := t.signals.readyChan()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			t.exited <- nil
			return
		case <-t.done:
			t.shutdown()
			t.exited <- nil
			return
		case msg := <-t.inbox:
			if t.cb.OnMessage != nil {
				t.cb.OnMessage(msg)
			}
		case id := <-t.timers.fired:
			if t.cb.OnTimer != nil {
				t.cb.OnTimer(id)
			}
		case ready := <-fdReady:
			if t.cb.OnUserFDs != nil {
				t.cb.OnUserFDs(ready)
			}
		case sig := <-sigReady:
			t.signals.clearPending(sig)
			if t.cb.OnSignal != nil {
				t.cb.OnSignal(sig)
			}
		}
	}
}

func (t *Thread) shutdown() {
	t.timers.stopAll()
	if t.cb.OnShutdown != nil {
		t.cb.OnShutdown()
	}
	// drain and free any outstanding messages rather than leaking them.
	for {
		select {
		case msg := <-t.inbox:
			_ = msg.Free()
		default:
			return
		}
	}
}

// Shutdown requests an orderly stop: timers are stopped, OnShutdown is
// invoked on the thread's own goroutine, and queued messages are freed.
// It is idempotent.
func (t *Thread) Shutdown() {
	t.once.Do(func() { close(t.done) })
}

// Join blocks until the thread has exited and returns any fatal startup
// error.
func (t *Thread) Join() error {
	return <-t.exited
}

// Send delivers msg to this thread asynchronously; ownership passes to
// the thread. If needsReply is set, the recipient must eventually call
// msg.Reply, which is routed back to replyCh.
func (t *Thread) Send(msg *Envelope, needsReply bool, replyCh chan *Envelope) error {
	msg.needsReply = needsReply
	msg.replyCh = replyCh
	select {
	case t.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("runtime: thread %s inbox full", t.name)
	}
}

// SendWait delivers msg to this thread and blocks the caller until the
// thread replies. The caller's own loop, if it has one, does NOT pump
// events while blocked here: a cyclic SendWait between two threads
// deadlocks by construction. Callers must respect the contract that only
// the lower-numbered side of a pairwise exchange initiates a SendWait.
func (t *Thread) SendWait(ctx context.Context, msg *Envelope) (*Envelope, error) {
	replyCh := make(chan *Envelope, 1)
	if err := t.Send(msg, true, replyCh); err != nil {
		return nil, err
	}
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateTimer registers a new timer owned by this thread. Duplicate ids
// return an error, matching the "already exists" failure of the source.
func (t *Thread) CreateTimer(id int) error {
	return t.timers.create(id)
}

// StartTimer arms timer id as periodic or one-shot with the given
// interval. oneShotFirst, when set on a periodic timer, fires once
// immediately before settling into the interval.
func (t *Thread) StartTimer(id int, interval time.Duration, periodic bool, oneShotFirst bool) error {
	return t.timers.start(id, interval, periodic, oneShotFirst)
}

// StopTimer cancels any pending fires of timer id. Stopping an unknown or
// already-stopped timer is a no-op error, not a panic.
func (t *Thread) StopTimer(id int) error {
	return t.timers.stop(id)
}

// RegisterUserFD registers fd for read-readiness notification via
// OnUserFDs. poll is the function used to detect readiness; production
// callers pass a real poller, tests pass a fake one.
func (t *Thread) RegisterUserFD(fd int, poll FDPoller) {
	t.userFDs.register(fd, poll)
}

// DeregisterUserFD removes fd from the ready set. It is safe to call for
// an fd that was already closed or never registered.
func (t *Thread) DeregisterUserFD(fd int) {
	t.userFDs.deregister(fd)
}

// SubscribeSignal arms delivery of the given signal number to this
// thread. Only the root thread should subscribe to process-wide signals
// in practice, but the mechanism itself is per-thread.
func (t *Thread) SubscribeSignal(sig int) {
	t.signals.subscribe(sig)
}

// DeliverSignal is how the process-wide signal source (see signal.go)
// hands a received signal to a subscribed thread. Delivery coalesces:
// if sig is already pending for this thread, this call is a no-op, so at
// least one but possibly not every raised instance is observed.
func (t *Thread) DeliverSignal(sig int) {
	t.signals.deliver(sig)
}
