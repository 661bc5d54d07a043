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
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FDPoller reports whether fd is currently ready for reading. The
// default implementation (pollFD) wraps unix.Poll; tests substitute a
// fake to drive OnUserFDs deterministically without real sockets.
type FDPoller func(fd int, timeout time.Duration) (bool, error)

// pollFD is the production FDPoller, a thin wrapper around poll(2) via
// golang.org/x/sys/unix, the same syscall package the rest of this
// codebase's socket and timestamping code is built on.
func pollFD(fd int, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

const fdPollInterval = 20 * time.Millisecond

type fdRegistration struct {
	fd   int
	poll FDPoller
	stop chan struct{}
}

// fdSet multiplexes read-readiness across every fd a Thread registered,
// funneling ready fds to a single channel the owning Thread's loop
// selects on alongside messages, timers and signals.
type fdSet struct {
	mu    sync.Mutex
	regs  map[int]*fdRegistration
	ready chan []int
}

func newFDSet() *fdSet {
	return &fdSet{
		regs:  map[int]*fdRegistration{},
		ready: make(chan []int, 16),
	}
}

func (s *fdSet) readyChan() chan []int { return s.ready }

func (s *fdSet) register(fd int, poll FDPoller) {
	if poll == nil {
		poll = pollFD
	}
	stop := make(chan struct{})
	reg := &fdRegistration{fd: fd, poll: poll, stop: stop}

	s.mu.Lock()
	if old, ok := s.regs[fd]; ok {
		close(old.stop)
	}
	s.regs[fd] = reg
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(fdPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ok, err := reg.poll(fd, 0)
				if err != nil || !ok {
					continue
				}
				select {
				case s.ready <- []int{fd}:
				default:
				}
			}
		}
	}()
}

// deregister is idempotent: removing an fd that was already closed or
// never registered is a no-op, as required of user-fd teardown.
func (s *fdSet) deregister(fd int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.regs[fd]; ok {
		close(reg.stop)
		delete(s.regs, fd)
	}
}
