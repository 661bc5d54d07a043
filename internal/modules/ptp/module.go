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

// Package ptp implements the PTP sync module kind: a unicast PTP slave
// that exchanges Sync/Delay_Req/Delay_Resp/Announce with one or more
// configured servers every tick, ranks the resulting per-server
// candidates with the same bic.Rank total order the engine uses across
// instances, and publishes the winner's dataset as this instance's
// Status. It generalizes ptp/sptp/client/sptp.go's SPTP.processResults
// (one RunOnce per configured server, then client-local BMCA over the
// Announce set) by replacing the bespoke Dscmp-based bmca() in
// ptp/sptp/client/bmca.go with the shared bic.Rank rule chain, and by
// collating timestamps through internal/ptpdataset instead of the
// inline mData struct in ptp/sptp/client/measurements.go.
package ptp

import (
	"context"
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/bic"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/ptpdataset"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	ptp "github.com/Xilinx-CNS/sfptpd-sub003/ptp/protocol"
)

const pollTimer = 1

// Config is the PTP module's instance-specific settings.
type Config struct {
	Name     string
	Servers  map[string]int // address -> local priority, mirrors client.Config.Servers
	Interval time.Duration
	Priority int

	MaxClockClass    ptp.ClockClass
	MaxClockAccuracy ptp.ClockAccuracy
}

// Exchange is one server's result for a single tick: either a completed
// four-timestamp exchange plus the Announce it arrived with, or an
// error (timeout, backoff, malformed reply).
type Exchange struct {
	Announce   ptp.Announce
	T1, T2     sfptime.Timespec
	T3, T4     sfptime.Timespec
	Correction sfptime.Timespec
	Err        error
}

// Exchanger performs one Sync/Delay_Req/Delay_Resp round trip against
// every configured server and returns each server's Exchange, keyed by
// address. This repository has no socket-backed implementation; only
// the tests' fake implements it.
type Exchanger interface {
	RunOnce(ctx context.Context, servers []string, timeout time.Duration) map[string]Exchange
}

// Module is a unicast PTP slave instance.
type Module struct {
	*syncmodule.Base

	cfg      Config
	exchange Exchanger

	servers []string
	sets    map[string]*ptpdataset.Dataset

	alarms syncmodule.Alarms
}

// New creates a PTP module with its own runtime.Thread. exchange is
// injected so tests can substitute a fake wire transport.
func New(cfg Config, exchange Exchanger, onChange syncmodule.StateChangeNotifier) *Module {
	m := &Module{cfg: cfg, exchange: exchange, sets: map[string]*ptpdataset.Dataset{}}
	for addr := range cfg.Servers {
		m.servers = append(m.servers, addr)
		m.sets[addr] = ptpdataset.New()
	}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindPTP, thread, onChange)
	return m
}

func (m *Module) onStartup() error {
	if err := m.Thread().CreateTimer(pollTimer); err != nil {
		return err
	}
	return m.Thread().StartTimer(pollTimer, m.cfg.Interval, true, true)
}

func (m *Module) onTimer(id int) {
	if id != pollTimer {
		return
	}
	m.tick()
}

func (m *Module) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
	defer cancel()
	results := m.exchange.RunOnce(ctx, m.servers, m.cfg.Interval)

	candidates := make([]bic.Candidate, 0, len(m.servers))
	statusByAddr := map[string]syncmodule.Status{}
	anyGood := false
	for _, addr := range m.servers {
		ex, ok := results[addr]
		ds := m.sets[addr]
		if !ok || ex.Err != nil {
			ds.ClearM2S()
			ds.ClearS2M()
			st := syncmodule.Status{State: syncmodule.StateListening, Alarms: syncmodule.Alarms(0).Set(syncmodule.AlarmNoSyncPkts)}
			statusByAddr[addr] = st
			candidates = append(candidates, bic.Candidate{Name: addr, Status: st})
			continue
		}
		ds.SetM2S(ex.T1, ex.T2, ex.Correction)
		ds.SetS2M(ex.T3, ex.T4, sfptime.Timespec{})
		anyGood = true
		statusByAddr[addr] = m.statusFromDataset(addr, ex, ds)
		candidates = append(candidates, bic.Candidate{Name: addr, Status: statusByAddr[addr], Rank: m.cfg.Servers[addr]})
	}

	if !anyGood {
		m.alarms = m.alarms.Set(syncmodule.AlarmNoSyncPkts)
		m.Publish(syncmodule.Status{State: syncmodule.StateListening, Alarms: m.alarms, UserPriority: m.cfg.Priority})
		return
	}
	m.alarms = m.alarms.Clear(syncmodule.AlarmNoSyncPkts)

	winner, ok := bic.Choose(candidates, bic.DefaultPolicy)
	if !ok {
		m.Publish(syncmodule.Status{State: syncmodule.StateListening, Alarms: m.alarms, UserPriority: m.cfg.Priority})
		return
	}
	best := statusByAddr[winner.Name]
	best.UserPriority = m.cfg.Priority
	m.Publish(best)
}

func (m *Module) statusFromDataset(addr string, ex Exchange, ds *ptpdataset.Dataset) syncmodule.Status {
	alarms := syncmodule.Alarms(0)
	offset, err := ds.OffsetFromMaster()
	if err != nil {
		alarms = alarms.Set(syncmodule.AlarmServoFault)
	}
	delay, _ := ds.PathDelay()

	cc := ex.Announce.GrandmasterClockQuality.ClockClass
	if m.cfg.MaxClockClass != 0 && cc > m.cfg.MaxClockClass {
		alarms = alarms.Set(syncmodule.AlarmCapsMismatch)
	}
	ca := ex.Announce.GrandmasterClockQuality.ClockAccuracy
	if m.cfg.MaxClockAccuracy != 0 && ca > m.cfg.MaxClockAccuracy {
		alarms = alarms.Set(syncmodule.AlarmCapsMismatch)
	}

	return syncmodule.Status{
		State:            syncmodule.StateSlave,
		Alarms:           alarms,
		ClockHandle:      addr,
		OffsetFromMaster: offset,
		LocalAccuracyNS:  delay.ToFloatNanoseconds(),
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockID:       ex.Announce.GrandmasterIdentity,
			ClockClass:    cc,
			TimeSource:    ex.Announce.TimeSource,
			AccuracyNS:    float64(ex.Announce.GrandmasterClockQuality.ClockAccuracy.Duration()),
			StepsRemoved:  ex.Announce.StepsRemoved,
			TimeTraceable: ex.Announce.TimeSource == ptp.TimeSourceGNSS || ex.Announce.TimeSource == ptp.TimeSourceAtomicClock,
		},
	}
}

func (m *Module) onMessage(e *runtime.Envelope) {
	switch e.ID {
	case syncmodule.MsgGetStatus:
		_ = e.Reply(m.Status())
	case syncmodule.MsgControl:
		p := e.Payload.(syncmodule.ControlPayload)
		m.ApplyControl(p.Flags, p.Mask)
		_ = e.Free()
	case syncmodule.MsgLinkTable:
		p := e.Payload.(syncmodule.LinkTablePayload)
		m.AcceptLinkTable(p.Table)
		_ = e.Free()
	default:
		syncmodule.LogUnhandled(m.Name(), e)
	}
}
