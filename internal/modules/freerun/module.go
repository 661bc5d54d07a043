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

// Package freerun implements the FREERUN sync module kind: a reference of
// last resort that disciplines nothing and always offers itself as a
// FREERUNNING clock class, so the BIC selector always has a candidate
// to fall back on when every other instance is alarmed or absent. It
// generalizes ptp/sptp/client/clock.go's FreeRunningClock (a dummy
// clock that no-ops every adjustment call) into a full sync module.
package freerun

import (
	"math"
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
)

const heartbeatTimer = 1

// Config is the free-run module's instance-specific settings.
type Config struct {
	Name     string
	Priority int
	// Interval paces the heartbeat republish of the same fixed status; it
	// carries no timing information of its own, and since Base.Publish
	// notifies only on a meaningful change, a repeated heartbeat notifies
	// nothing.
	Interval time.Duration
}

// Module is a dummy clock reference: it never raises an alarm and never
// reports anything better than FREERUNNING, so it only wins BIC
// selection when every other registered instance can't.
type Module struct {
	*syncmodule.Base

	cfg Config
}

// New creates a free-run module with its own runtime.Thread.
func New(cfg Config, onChange syncmodule.StateChangeNotifier) *Module {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	m := &Module{cfg: cfg}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindFreerun, thread, onChange)
	return m
}

func (m *Module) onStartup() error {
	m.publish()
	if err := m.Thread().CreateTimer(heartbeatTimer); err != nil {
		return err
	}
	return m.Thread().StartTimer(heartbeatTimer, m.cfg.Interval, true, true)
}

func (m *Module) onTimer(id int) {
	if id != heartbeatTimer {
		return
	}
	m.publish()
}

func (m *Module) publish() {
	m.Publish(syncmodule.Status{
		State:        syncmodule.StateSlave,
		UserPriority: m.cfg.Priority,
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockClass: syncmodule.ClockClassFreerunning,
			// Mirrors bic.UnknownAccuracy: the free-run module never
			// claims an accuracy figure, so it always loses the BIC's
			// TOTAL_ACCURACY rule against an instance that reports one.
			AccuracyNS: math.Inf(1),
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
