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

// Package ntpmod implements the NTP sync module kind: it layers
// get_sys_info over ntp/control's low-level mode-6 NTPClient.Communicate
// wire client (ntp/control/client.go), since no higher-level NTP
// abstraction survives in the retained pack, parsing the READVAR system
// variables response with ntp/control's NormalizeData (ntp/control/
// packet.go) the same way ntpq's own readvar command would.
package ntpmod

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/ntp/control"
)

const pollTimer = 1

// Config is the NTP module's instance-specific settings.
type Config struct {
	Name     string
	Interval time.Duration
	Priority int
}

// Control is the subset of *control.NTPClient's behavior the module
// needs; tests substitute a fake so they don't depend on a real ntpd
// control socket.
type Control interface {
	Communicate(packet *control.NTPControlMsgHead) (*control.NTPControlMsg, error)
}

// Module polls a local ntpd's system variables over its mode-6 control
// socket.
type Module struct {
	*syncmodule.Base

	cfg Config
	ctl Control

	alarms syncmodule.Alarms
}

// New creates an NTP module with its own runtime.Thread. ctl is injected
// so tests can substitute a fake ntpd responder.
func New(cfg Config, ctl Control, onChange syncmodule.StateChangeNotifier) *Module {
	m := &Module{cfg: cfg, ctl: ctl}
	thread := runtime.NewThread(cfg.Name, runtime.Callbacks{
		OnStartup: m.onStartup,
		OnMessage: m.onMessage,
		OnTimer:   m.onTimer,
	})
	m.Base = syncmodule.NewBase(cfg.Name, syncmodule.KindNTP, thread, onChange)
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

	info, err := m.getSysInfo()
	if err != nil {
		m.alarms = m.alarms.Set(syncmodule.AlarmNoTimeOfDay)
		m.Publish(syncmodule.Status{State: syncmodule.StateListening, Alarms: m.alarms, UserPriority: m.cfg.Priority})
		return
	}
	m.alarms = m.alarms.Clear(syncmodule.AlarmNoTimeOfDay)

	state := syncmodule.StateSlave
	if info.leap == 3 { // LEAP_NOTINSYNC
		state = syncmodule.StateListening
	}
	m.Publish(syncmodule.Status{
		State:            state,
		Alarms:           m.alarms,
		ClockHandle:      fmt.Sprintf("ntp:%s", m.cfg.Name),
		OffsetFromMaster: sfptime.FromFloatSeconds(info.offsetSec),
		UserPriority:     m.cfg.Priority,
		Grandmaster: syncmodule.GrandmasterInfo{
			ClockClass:    stratumToClockClass(info.stratum),
			AccuracyNS:    info.rootDispSec * 1e9,
			StepsRemoved:  uint16(info.stratum),
			TimeTraceable: info.stratum <= 1,
		},
	})
}

// sysInfo is the subset of ntpd's system variables the NTP module acts
// on, decoded from a get_sys_info() READVAR exchange.
type sysInfo struct {
	stratum     int
	leap        int
	offsetSec   float64
	rootDispSec float64
}

// getSysInfo issues a single READVAR request against AssocID 0 (the
// system association) and decodes its reply.
func (m *Module) getSysInfo() (*sysInfo, error) {
	req := &control.NTPControlMsgHead{
		VnMode: control.MakeVnMode(2, 6),
		REMOp:  control.MakeREMOp(false, false, false, control.OpReadVariables),
	}
	reply, err := m.ctl.Communicate(req)
	if err != nil {
		return nil, fmt.Errorf("reading ntpd system variables: %w", err)
	}
	if reply.HasError() {
		return nil, fmt.Errorf("ntpd returned an error response")
	}
	vars, err := control.NormalizeData(reply.Data)
	if err != nil {
		return nil, err
	}

	info := &sysInfo{}
	info.stratum, _ = strconv.Atoi(vars["stratum"])
	info.leap, _ = strconv.Atoi(vars["leap"])
	info.offsetSec, _ = strconv.ParseFloat(vars["offset"], 64)
	info.rootDispSec, _ = strconv.ParseFloat(vars["rootdisp"], 64)
	return info, nil
}

// stratumToClockClass maps an NTP stratum to the shared ClockClass
// scale; see internal/modules/chronymod's identical mapping for chronyd.
func stratumToClockClass(stratum int) syncmodule.ClockClass {
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
