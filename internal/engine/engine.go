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

// Package engine is the thin glue holding the module registry, the BIC
// selector and the link-table owner together. It mirrors the role the
// sptp client's top-level run loop plays for its single PTP instance
// (bmca.go's periodic bmca() call plus the grandmaster-info fan-out in
// measurements.go), generalized to an arbitrary set of concurrently
// running sync module kinds.
package engine

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/bic"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/linktable"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
)

// instanceEntry is what the engine keeps per registered sync module.
type instanceEntry struct {
	module syncmodule.Module
	rank   int // registration order, used as the BIC's tie-break identity
}

// Engine owns the canonical instance registry, the link-table publisher
// and the selection cadence. It never talks to a module except through
// syncmodule.Module and the message set in syncmodule/module.go.
type Engine struct {
	mu        sync.Mutex
	instances map[string]*instanceEntry
	order     []string // registration order, for deterministic iteration

	linkOwner *linktable.Owner

	policy   []bic.Rule
	selected string // name of the instance currently holding CLOCK_CTRL
	manual   string // manually selected instance, if any ("" = automatic)

	clusteringInput map[string]int // instance name -> last reported clustering score
}

// New creates an Engine with the default BIC policy and a link-table
// owner sized for numConsumers subscribers.
func New(numConsumers int) *Engine {
	return &Engine{
		instances:       make(map[string]*instanceEntry),
		linkOwner:       linktable.NewOwner(numConsumers),
		policy:          bic.DefaultPolicy,
		clusteringInput: make(map[string]int),
	}
}

// Register adds a module to the instance registry. Registration order
// becomes the BIC tie-break rank, matching the deterministic ordering
// the sptp client's multi-server bmca() scan falls back to.
func (e *Engine) Register(m syncmodule.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := m.Name()
	e.instances[name] = &instanceEntry{module: m, rank: len(e.order)}
	e.order = append(e.order, name)
}

// GetSyncInstanceByName implements the engine-facing lookup §4.5
// requires modules be able to perform, e.g. to validate a configured
// "timestamp processing" peer reference.
func (e *Engine) GetSyncInstanceByName(name string) (syncmodule.Module, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.instances[name]
	if !ok {
		return nil, false
	}
	return ent.module, true
}

// ClusteringInput records the last clustering score an instance
// reported and returns the full set observed so far, the shape the
// CLUSTERING rule's engine-side input takes per the open question on
// clustering-score encoding (larger is better, engine-defined encoding).
func (e *Engine) ClusteringInput(name string, score int) map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clusteringInput[name] = score
	out := make(map[string]int, len(e.clusteringInput))
	for k, v := range e.clusteringInput {
		out[k] = v
	}
	return out
}

// SelectManual pins name as the manually selected instance; an empty
// name reverts to automatic BIC selection.
func (e *Engine) SelectManual(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manual = name
}

// candidatesLocked builds the BIC candidate vector from the current
// registry snapshot. Caller must hold e.mu.
func (e *Engine) candidatesLocked() []bic.Candidate {
	candidates := make([]bic.Candidate, 0, len(e.order))
	for _, name := range e.order {
		ent := e.instances[name]
		candidates = append(candidates, bic.Candidate{
			Name:     name,
			Status:   ent.module.Status(),
			Selected: name == e.manual && e.manual != "",
			Rank:     ent.rank,
		})
	}
	return candidates
}

// RunSelection aggregates every registered instance's current status,
// runs the BIC selector and applies the elected instance's SELECTED |
// CLOCK_CTRL control flags, deselecting every other instance so that
// only one clock-control owner exists at a time (§4.5). It returns the
// winner's name, or "" if there were no candidates.
func (e *Engine) RunSelection(apply func(instance string, flags, mask syncmodule.ControlFlags)) string {
	e.mu.Lock()
	candidates := e.candidatesLocked()
	policy := e.policy
	e.mu.Unlock()

	winner, ok := bic.Choose(candidates, policy)
	if !ok {
		return ""
	}

	e.mu.Lock()
	prevSelected := e.selected
	e.selected = winner.Name
	e.mu.Unlock()

	mask := syncmodule.ControlSelected | syncmodule.ControlClockCtrl
	if prevSelected != winner.Name && prevSelected != "" {
		apply(prevSelected, 0, mask)
	}
	apply(winner.Name, mask, mask)
	for _, c := range candidates {
		if c.Name != winner.Name && c.Name != prevSelected {
			apply(c.Name, 0, mask)
		}
	}

	log.WithFields(log.Fields{"instance": winner.Name}).Info("engine: selection changed clock control owner")
	return winner.Name
}

// Selected returns the name of the instance currently holding
// CLOCK_CTRL, or "" if none has been elected yet.
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// PublishLinkTable pushes a new interface snapshot to every registered
// instance's thread via MsgLinkTable, implementing the "owns the
// canonical link-table subscription list and forwards new versions to
// subscribers" responsibility. It returns an error if the prior version
// still has outstanding consumers (linktable.Owner.Publish's contract).
func (e *Engine) PublishLinkTable(rows []linktable.Row, pool *runtime.Pool) error {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	e.linkOwner.SetConsumerCount(len(names))
	e.mu.Unlock()

	if len(names) == 0 {
		return nil
	}

	table, err := e.linkOwner.Publish(rows)
	if err != nil {
		return fmt.Errorf("engine: publish link table: %w", err)
	}

	for _, name := range names {
		e.mu.Lock()
		ent, ok := e.instances[name]
		e.mu.Unlock()
		if !ok {
			continue
		}
		env, err := pool.Alloc(syncmodule.MsgLinkTable, syncmodule.LinkTablePayload{Table: table})
		if err != nil {
			log.WithError(err).Warn("engine: link table pool exhausted, instance will see a stale snapshot")
			continue
		}
		if err := ent.module.Thread().Send(env, false, nil); err != nil {
			log.WithError(err).WithField("instance", name).Warn("engine: failed to forward link table")
			_ = env.Free()
		}
	}
	return nil
}

// BroadcastGMInfo implements the UPDATE_GM_INFO fan-out: every
// registered instance except originator receives the new grandmaster
// info, so a PTP instance's BMCA decision can influence, say, an NTP
// instance's reported stratum ceiling.
func (e *Engine) BroadcastGMInfo(originator string, info syncmodule.GrandmasterInfo, pool *runtime.Pool) {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	entries := make(map[string]*instanceEntry, len(e.instances))
	for k, v := range e.instances {
		entries[k] = v
	}
	e.mu.Unlock()

	for _, name := range names {
		if name == originator {
			continue
		}
		ent, ok := entries[name]
		if !ok {
			continue
		}
		env, err := pool.Alloc(syncmodule.MsgUpdateGMInfo, syncmodule.UpdateGMInfoPayload{Originator: originator, Info: info})
		if err != nil {
			log.WithError(err).Warn("engine: gm-info pool exhausted")
			continue
		}
		if err := ent.module.Thread().Send(env, false, nil); err != nil {
			_ = env.Free()
		}
	}
}

// BroadcastLeapSecond implements UPDATE_LEAP_SECOND, delivered to every
// registered instance (there is no originator to exclude: leap seconds
// are scheduled by the engine itself, per schedule/cancel_leap_second).
func (e *Engine) BroadcastLeapSecond(kind syncmodule.LeapSecondType, pool *runtime.Pool) {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	entries := make(map[string]*instanceEntry, len(e.instances))
	for k, v := range e.instances {
		entries[k] = v
	}
	e.mu.Unlock()

	for _, name := range names {
		ent := entries[name]
		env, err := pool.Alloc(syncmodule.MsgUpdateLeapSecond, syncmodule.UpdateLeapSecondPayload{Type: kind})
		if err != nil {
			log.WithError(err).Warn("engine: leap-second pool exhausted")
			continue
		}
		if err := ent.module.Thread().Send(env, false, nil); err != nil {
			_ = env.Free()
		}
	}
}

// Snapshot returns the current status of every registered instance,
// ordered by instance name, the shape a periodic state dump (§6) walks.
func (e *Engine) Snapshot() []InstanceStatus {
	e.mu.Lock()
	names := append([]string(nil), e.order...)
	entries := make(map[string]*instanceEntry, len(e.instances))
	for k, v := range e.instances {
		entries[k] = v
	}
	e.mu.Unlock()

	out := make([]InstanceStatus, 0, len(names))
	for _, name := range names {
		ent := entries[name]
		out = append(out, InstanceStatus{
			Name:   name,
			Kind:   ent.module.Kind(),
			Status: ent.module.Status(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// InstanceStatus pairs a registered instance's identity with its latest
// published status, for diagnostics and state-dump rendering.
type InstanceStatus struct {
	Name   string
	Kind   syncmodule.Kind
	Status syncmodule.Status
}
