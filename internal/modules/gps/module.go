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

// Package gps implements the GNSS sync module kind: it polls a local
// oscillatord monitoring socket for GNSS-disciplined-oscillator status
// and republishes it as a Status the BIC selector can rank. It is
// grounded on oscillatord/monitoring.go's ReadStatus/Status shape, the
// same poll-and-map pattern internal/modules/chronymod uses for
// chronyd's control socket.
package gps

import (
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/oscillatord"
)

const pollTimer = 1

// Config is the GNSS module's instance-specific settings.
type Config struct {
	Name     string
	Interval time.Duration
	Priority int
}

// Reader is the subset of a connection to oscillatord's monitoring
// socket the module needs; tests substitute a fake so they don't
// depend on a real daemon.
type Reader interface {
	ReadStatus() (*oscillatord.Status, error)
}

// Module polls a GNSS-disciplined oscillator's monitoring status.
type Module struct {
	*syncmodule.Base

	cfg    Config
	reader Reader

	alarms syncmodule.Alarms
}

// New creates a GNSS module with its own runtime.Thread. reader is
// injected so tests can substitute a fake oscillatord responder.
func New(cfg Config, reader Reader, onChange syncmodule.StateChangeNotifier) *Module {
	m := &Module{cfg: cfg, reader: reader}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindGPS, thread, onChange)
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

	st, err := m.reader.ReadStatus()
	if err != nil {
		m.alarms = m.alarms.Set(syncmodule.AlarmNoTimeOfDay)
		m.publish(nil)
		return
	}
	if !st.GNSS.FixOK || st.GNSS.AntennaStatus != oscillatord.AntStatusOK {
		m.alarms = m.alarms.Set(syncmodule.AlarmGNSSNoFix)
	} else {
		m.alarms = m.alarms.Clear(syncmodule.AlarmGNSSNoFix)
	}
	if st.GNSS.FixOK {
		m.alarms = m.alarms.Clear(syncmodule.AlarmNoTimeOfDay)
	}
	m.publish(st)
}

func (m *Module) publish(st *oscillatord.Status) {
	if st == nil {
		m.Publish(syncmodule.Status{State: syncmodule.StateListening, Alarms: m.alarms, UserPriority: m.cfg.Priority})
		return
	}

	state := syncmodule.StateSlave
	if !st.GNSS.FixOK || st.Clock.Class == oscillatord.ClockClassUncalibrated {
		state = syncmodule.StateListening
	}
	m.Publish(syncmodule.Status{
		State:            state,
		Alarms:           m.alarms,
		ClockHandle:      m.cfg.Name,
		OffsetFromMaster: sfptime.FromFloatNanoseconds(float64(st.Clock.Offset)),
		UserPriority:     m.cfg.Priority,
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockClass:    oscillatorClockClassToStandard(st.Clock.Class),
			AccuracyNS:    float64(st.GNSS.TimeAccuracy),
			StepsRemoved:  0,
			TimeTraceable: st.GNSS.FixOK,
		},
	})
}

// oscillatorClockClassToStandard maps oscillatord's own ClockClass enum
// (Lock/Holdover/Calibrating/Uncalibrated) onto the shared syncmodule
// scale so the BIC's CLOCK_CLASS rule can rank a GNSS instance next to
// PTP and chrony instances.
func oscillatorClockClassToStandard(c oscillatord.ClockClass) syncmodule.ClockClass {
	switch c {
	case oscillatord.ClockClassLock:
		return syncmodule.ClockClassLocked
	case oscillatord.ClockClassHoldover:
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
