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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolAllocFreeConservation(t *testing.T) {
	p := NewPool(2, 1024)
	m1, err := p.Alloc(1, nil)
	require.NoError(t, err)
	_, err = p.Alloc(2, nil)
	require.NoError(t, err)

	_, err = p.Alloc(3, nil)
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, m1.Free())
	require.ErrorIs(t, m1.Free(), ErrAlreadyOwned)

	m3, err := p.Alloc(3, nil)
	require.NoError(t, err)
	require.NotNil(t, m3)
}

func TestReplyIsExclusiveWithFree(t *testing.T) {
	p := NewPool(1, 0)
	m, err := p.Alloc(1, "req")
	require.NoError(t, err)
	require.NoError(t, m.Reply("resp"))
	require.ErrorIs(t, m.Free(), ErrAlreadyOwned)
}

// TestSendOrderPreservation is spec property 8: dispatch
// order on the receiver matches send order for a fixed sender/receiver
// pair.
func TestSendOrderPreservation(t *testing.T) {
	pool := NewPool(64, 0)
	var mu sync.Mutex
	var seen []int

	recv := NewThread("recv", Callbacks{
		OnMessage: func(e *Envelope) {
			mu.Lock()
			seen = append(seen, e.Payload.(int))
			mu.Unlock()
			_ = e.Free()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recv.Start(ctx)
	defer recv.Shutdown()

	const n = 100
	for i := 0; i < n; i++ {
		m, err := pool.Alloc(ID(i), i)
		require.NoError(t, err)
		require.NoError(t, recv.Send(m, false, nil))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		require.Equal(t, i, v)
	}
}

// TestMessageRoundTrip is spec scenario S5.
func TestMessageRoundTrip(t *testing.T) {
	pool := NewPool(16, 0)
	var reqsTxed, respsRxed int32

	t2 := NewThread("t2", Callbacks{
		OnMessage: func(e *Envelope) {
			require.NoError(t, e.Reply("RESP"))
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t2.Start(ctx)
	defer t2.Shutdown()

	for i := 0; i < 10; i++ {
		m, err := pool.Alloc(1, "REQ")
		require.NoError(t, err)
		atomic.AddInt32(&reqsTxed, 1)
		reply, err := t2.SendWait(context.Background(), m)
		require.NoError(t, err)
		require.Equal(t, "RESP", reply.Payload)
		atomic.AddInt32(&respsRxed, 1)
	}
	require.Equal(t, reqsTxed, respsRxed)
}

// TestTimerCadence is spec scenario S6 scaled down: ~25 fires in 500ms
// at 20ms, zero fires after Stop.
func TestTimerCadence(t *testing.T) {
	var count int32
	th := NewThread("timed", Callbacks{
		OnTimer: func(id int) {
			atomic.AddInt32(&count, 1)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Shutdown()

	require.NoError(t, th.CreateTimer(1))
	require.NoError(t, th.StartTimer(1, 20*time.Millisecond, true, false))

	time.Sleep(500 * time.Millisecond)
	require.NoError(t, th.StopTimer(1))

	got := atomic.LoadInt32(&count)
	require.InDelta(t, 25, got, 8)

	time.Sleep(100 * time.Millisecond)
	stable := atomic.LoadInt32(&count)
	require.Equal(t, got, stable)
}

func TestDuplicateTimerCreate(t *testing.T) {
	th := NewThread("t", Callbacks{})
	require.NoError(t, th.CreateTimer(1))
	require.ErrorIs(t, th.CreateTimer(1), ErrTimerExists)
}

// TestSignalCoalescing is spec property 9: received <= sent per signal
// number, and >= 1 if sent >= 1.
func TestSignalCoalescing(t *testing.T) {
	var mu sync.Mutex
	received := map[int]int{}

	var th *Thread
	th = NewThread("sig", Callbacks{
		OnSignal: func(sig int) {
			mu.Lock()
			received[sig]++
			mu.Unlock()
			th.signals.clearPending(sig)
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Shutdown()

	th.SubscribeSignal(42)

	const sent = 20
	for i := 0; i < sent; i++ {
		th.DeliverSignal(42)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received[42] >= 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, received[42], 1)
	require.LessOrEqual(t, received[42], sent)
}

func TestUserFDReadiness(t *testing.T) {
	var got []int
	var mu sync.Mutex
	done := make(chan struct{})

	th := NewThread("fd", Callbacks{
		OnUserFDs: func(ready []int) {
			mu.Lock()
			got = append(got, ready...)
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)
	defer th.Shutdown()

	th.RegisterUserFD(7, func(fd int, timeout time.Duration) (bool, error) {
		return fd == 7, nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fd readiness callback")
	}

	th.DeregisterUserFD(7)
	th.DeregisterUserFD(7) // idempotent

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got, 7)
}

func TestShutdownFreesQueuedMessages(t *testing.T) {
	pool := NewPool(4, 0)
	blocked := make(chan struct{})
	th := NewThread("shutdown", Callbacks{
		OnMessage: func(e *Envelope) {
			<-blocked
			_ = e.Free()
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	th.Start(ctx)

	m1, _ := pool.Alloc(1, nil)
	require.NoError(t, th.Send(m1, false, nil))
	time.Sleep(10 * time.Millisecond) // let m1 be picked up and block in OnMessage

	m2, _ := pool.Alloc(2, nil)
	require.NoError(t, th.Send(m2, false, nil))

	th.Shutdown()
	close(blocked)
	require.NoError(t, th.Join())
}
