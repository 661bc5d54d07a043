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
	"io"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/linktable"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
)

// Kind identifies a sync module's underlying protocol. It is a closed
// set; every Kind speaks the same message contract below.
type Kind uint8

const (
	KindFreerun Kind = iota
	KindPTP
	KindPPS
	KindNTP
	KindChrony
	KindGPS
)

func (k Kind) String() string {
	switch k {
	case KindFreerun:
		return "FREERUN"
	case KindPTP:
		return "PTP"
	case KindPPS:
		return "PPS"
	case KindNTP:
		return "NTP"
	case KindChrony:
		return "CRNY"
	case KindGPS:
		return "GPS"
	default:
		return "UNKNOWN"
	}
}

// Message IDs for the sync module contract (§4.2). Every module kind
// accepts all of these on its thread's inbox.
const (
	MsgGetStatus runtime.ID = iota
	MsgControl
	MsgStepClock
	MsgLogStats
	MsgSaveState
	MsgWriteTopology
	MsgStatsEndPeriod
	MsgTestMode
	MsgUpdateGMInfo
	MsgUpdateLeapSecond
	MsgLinkTable
)

// LeapSecondType mirrors the three leap-second broadcast states.
type LeapSecondType uint8

const (
	LeapNone LeapSecondType = iota
	Leap59
	Leap61
)

// GetStatusPayload is the (empty) request and Status the reply payload
// for MsgGetStatus.
type GetStatusPayload struct{ Instance string }

// ControlPayload is the request payload for MsgControl.
type ControlPayload struct {
	Instance string
	Flags    ControlFlags
	Mask     ControlFlags
}

// StepClockPayload is the request payload for MsgStepClock.
type StepClockPayload struct {
	Instance string
	Offset   sfptime.Timespec
}

// LogStatsPayload carries the wall-clock time to flush stats for.
type LogStatsPayload struct{ Time sfptime.Timespec }

// WriteTopologyPayload is the request payload for MsgWriteTopology.
type WriteTopologyPayload struct {
	Instance string
	Stream   io.Writer
}

// TestModePayload injects a fault/behavior for tests.
type TestModePayload struct {
	Instance string
	ID       int
	Params   [3]int64
}

// UpdateGMInfoPayload broadcasts grandmaster info; the engine's
// BroadcastGMInfo does not send it to the originator.
type UpdateGMInfoPayload struct {
	Originator string
	Info       GrandmasterInfo
}

// UpdateLeapSecondPayload broadcasts a pending leap second.
type UpdateLeapSecondPayload struct{ Type LeapSecondType }

// LinkTablePayload hands a module a reference to a new interface
// snapshot; the module must call Release when done with it.
type LinkTablePayload struct{ Table *linktable.Table }

// Module is the contract every sync module kind implements on top of a
// runtime.Thread. The engine only ever talks to instances through this
// interface plus the message set above.
type Module interface {
	Name() string
	Kind() Kind
	Thread() *runtime.Thread
	Status() Status
}
