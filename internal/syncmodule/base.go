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

package syncmodule

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/linktable"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
)

// StateChangeNotifier is how a Base tells its owner (the engine) that a
// tick produced a status worth re-running selection over. The engine
// wires this to its own aggregation step; tests can capture it directly.
type StateChangeNotifier func(instance string, status Status)

// Base bundles the bookkeeping common to every module kind: its thread,
// its control flags, its last-published status and the link-table
// subscription lifecycle. Kind-specific modules embed Base and drive it
// from their own OnTimer/OnMessage callbacks, generalizing the inline
// bookkeeping the sptp client keeps in its measurements/stats types into
// a shared, kind-agnostic skeleton.
type Base struct {
	mu sync.Mutex

	name string
	kind Kind

	thread *runtime.Thread

	control ControlFlags
	last    Status
	current Status

	onChange StateChangeNotifier

	curTable *linktable.Table
}

// NewBase wires a Base to its thread and change notifier. name and kind
// are immutable for the instance's lifetime.
func NewBase(name string, kind Kind, thread *runtime.Thread, onChange StateChangeNotifier) *Base {
	return &Base{
		name:    name,
		kind:    kind,
		thread:  thread,
		control: DefaultControlFlags,
		onChange: onChange,
	}
}

func (b *Base) Name() string             { return b.name }
func (b *Base) Kind() Kind                { return b.kind }
func (b *Base) Thread() *runtime.Thread   { return b.thread }

// Status returns the most recently published snapshot.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Control returns the current control-flag mask the engine has set.
func (b *Base) Control() ControlFlags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.control
}

// ApplyControl implements the CONTROL message.
func (b *Base) ApplyControl(flags, mask ControlFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.control = b.control.Apply(flags, mask)
}

// Publish records a freshly derived status and, if it differs
// meaningfully from the last published one, invokes the change
// notifier. Call this once per protocol tick after deriving Status.
func (b *Base) Publish(status Status) {
	b.mu.Lock()
	prev := b.current
	changed := !prev.Equal(status) || b.current == (Status{})
	b.current = status
	b.last = prev
	notify := b.onChange
	b.mu.Unlock()

	if changed && notify != nil {
		notify(b.name, status)
	}
}

// AcceptLinkTable implements the LINK_TABLE message: release whatever
// table this module was previously holding, take ownership of the new
// one, and return it so the caller can re-evaluate bond/VLAN/physical
// state against it.
func (b *Base) AcceptLinkTable(t *linktable.Table) *linktable.Table {
	b.mu.Lock()
	prev := b.curTable
	b.curTable = t
	b.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return t
}

// ReleaseLinkTable gives up this module's reference on shutdown.
func (b *Base) ReleaseLinkTable() {
	b.mu.Lock()
	t := b.curTable
	b.curTable = nil
	b.mu.Unlock()
	if t != nil {
		t.Release()
	}
}

// LogUnhandled is the fallback a module's OnMessage dispatch calls for a
// message ID it doesn't special-case; every module still owes the
// envelope a Free/Reply, so this frees it and logs at debug rather than
// silently leaking the slot.
func LogUnhandled(name string, e *runtime.Envelope) {
	log.Debugf("sync module %s: unhandled message id %v, freeing", name, e.ID)
	_ = e.Free()
}
