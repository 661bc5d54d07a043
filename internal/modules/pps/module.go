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

// Package pps implements the PPS sync module kind: it tracks a local PHC
// against an external 1PPS reference by polling the sink device for edge
// timestamps and feeding the offset to a PI servo. The servo's frequency
// correction is not applied to any clock; the module only publishes the
// measured offset. It
// generalizes phc's free function pair PPSSinkFromDevice/PollPPSSink +
// PPSClockSync (phc/pps_source.go) into a module.Module driven off a
// runtime.Thread instead of the bare goroutine-with-log.Printf loop the
// source functions assume their caller builds.
package pps

import (
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/phc"
	"github.com/Xilinx-CNS/sfptpd-sub003/servo"
)

const pollTimer = 1

// Config is the PPS module's instance-specific settings.
type Config struct {
	Name     string
	PHCPath  string // e.g. /dev/ptp0, the clock the PPS signal disciplines
	PinIndex uint
	Interval time.Duration
	Priority int
}

// Sink is the subset of phc.PPSSink's behavior the module needs; tests
// substitute a fake so they don't depend on a real PTP hardware clock.
type Sink interface {
	PollPPSSink() (time.Time, error)
}

// Servo is the subset of servo.PiServo's behavior the module drives.
type Servo interface {
	Sample(offset int64, localTs uint64) (float64, servo.State)
}

// Module disciplines one PHC against a 1PPS sink.
type Module struct {
	*syncmodule.Base

	cfg  Config
	sink Sink
	pi   Servo

	lastOffsetNS      float64
	alarms            syncmodule.Alarms
	consecutiveMisses int
}

// New creates a PPS module with its own runtime.Thread. sink and pi are
// injected so tests can substitute fakes for the real ioctl-backed
// phc.PPSSink and servo.PiServo.
func New(cfg Config, sink Sink, pi Servo, onChange syncmodule.StateChangeNotifier) *Module {
	m := &Module{cfg: cfg, sink: sink, pi: pi}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindPPS, thread, onChange)
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

	ts, err := m.sink.PollPPSSink()
	if err != nil {
		m.consecutiveMisses++
		if m.consecutiveMisses >= 3 {
			m.alarms = m.alarms.Set(syncmodule.AlarmPPSNoSignal)
		}
		m.publish()
		return
	}
	m.consecutiveMisses = 0
	m.alarms = m.alarms.Clear(syncmodule.AlarmPPSNoSignal)

	offset := ts.Sub(ts.Truncate(time.Second))
	freqAdj, state := m.pi.Sample(int64(offset), uint64(ts.UnixNano()))
	switch state {
	case servo.StateJump, servo.StateLocked:
		m.lastOffsetNS = float64(offset)
		_ = freqAdj // not applied to any clock
	}
	m.publish()
}

func (m *Module) publish() {
	state := syncmodule.StateSlave
	if m.alarms.Has(syncmodule.AlarmPPSNoSignal) {
		state = syncmodule.StateListening
	}
	m.Publish(syncmodule.Status{
		State:            state,
		Alarms:           m.alarms,
		ClockHandle:      m.cfg.PHCPath,
		OffsetFromMaster: sfptime.FromFloatNanoseconds(m.lastOffsetNS),
		UserPriority:     m.cfg.Priority,
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockClass: syncmodule.ClockClassLocked,
		},
	})
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
