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

// Package chronymod implements the CRNY sync module kind: it tracks a
// local chronyd over its Unix control socket and republishes chronyd's
// own notion of sync state as a Status the BIC selector can rank
// alongside PTP/NTP/PPS/GPS instances. It is grounded on
// ntp/chrony/client.go's Client.Communicate plus the Tracking reply
// shape in ntp/chrony/packet.go, wrapped the way the PPS module wraps
// phc's free functions in a runtime.Thread-driven poll loop.
package chronymod

import (
	"fmt"
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/ntp/chrony"
)

const pollTimer = 1

// Config is the chrony module's instance-specific settings.
type Config struct {
	Name     string
	Interval time.Duration
	Priority int
}

// Tracker is the subset of chrony.Client's behavior the module needs.
type Tracker interface {
	Communicate(packet chrony.RequestPacket) (chrony.ResponsePacket, error)
}

// Module polls chronyd's tracking state over its control socket.
type Module struct {
	*syncmodule.Base

	cfg     Config
	tracker Tracker

	alarms syncmodule.Alarms
}

// New creates a chrony module with its own runtime.Thread. tracker is
// injected so tests can substitute a fake chronyd responder.
func New(cfg Config, tracker Tracker, onChange syncmodule.StateChangeNotifier) *Module {
	m := &Module{cfg: cfg, tracker: tracker}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindChrony, thread, onChange)
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

	reply, err := m.tracker.Communicate(chrony.NewTrackingPacket())
	if err != nil {
		m.alarms = m.alarms.Set(syncmodule.AlarmNoTimeOfDay)
		m.publish(nil)
		return
	}
	tr, ok := reply.(*chrony.ReplyTracking)
	if !ok {
		m.alarms = m.alarms.Set(syncmodule.AlarmNoTimeOfDay)
		m.publish(nil)
		return
	}
	m.alarms = m.alarms.Clear(syncmodule.AlarmNoTimeOfDay)
	m.publish(&tr.Tracking)
}

func (m *Module) publish(tr *chrony.Tracking) {
	if tr == nil {
		m.Publish(syncmodule.Status{State: syncmodule.StateListening, Alarms: m.alarms, UserPriority: m.cfg.Priority})
		return
	}
	state := syncmodule.StateSlave
	if tr.LeapStatus == 3 { // LEAP_NotSynchronised per chronyd's Tracking.LeapStatus encoding
		state = syncmodule.StateListening
	}
	m.Publish(syncmodule.Status{
		State:            state,
		Alarms:           m.alarms,
		ClockHandle:      fmt.Sprintf("chrony:%s", m.cfg.Name),
		OffsetFromMaster: sfptime.FromFloatSeconds(tr.LastOffset),
		UserPriority:     m.cfg.Priority,
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockClass:    stratumToClockClass(tr.Stratum),
			AccuracyNS:    tr.RootDispersion * 1e9,
			StepsRemoved:  tr.Stratum,
			TimeTraceable: tr.Stratum <= 1,
		},
	})
}

// stratumToClockClass maps an NTP/chrony stratum to the shared
// ClockClass scale so the BIC's CLOCK_CLASS rule can compare a chrony
// instance against a PTP one: stratum 1 is as good as LOCKED, anything
// worse is scaled down towards FREERUNNING.
func stratumToClockClass(stratum uint16) syncmodule.ClockClass {
	switch {
	case stratum <= 1:
		return syncmodule.ClockClassLocked
	case stratum <= 15:
		return syncmodule.ClockClassHoldover
	default:
		return syncmodule.ClockClassFreerunning
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
