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
	ptp "github.com/Xilinx-CNS/sfptpd-sub003/ptp/protocol"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
)

// ClockClass mirrors the PTP notion of clock class that the BIC's
// CLOCK_CLASS rule compares numerically; reusing ptp.ClockClass keeps the
// selector and the PTP module's Announce handling on one scale.
type ClockClass = ptp.ClockClass

// Synthetic clock classes for the non-PTP reference kinds (NTP, chrony,
// free-run, GPS), chosen to interleave sensibly with the real PTP
// ClockClass scale used by ptp.ClockClass6 (LOCKED) .. ptp.ClockClass255.
const (
	ClockClassLocked      ClockClass = ptp.ClockClass6
	ClockClassHoldover    ClockClass = ptp.ClockClass7
	ClockClassFreerunning ClockClass = ptp.ClockClass52
	ClockClassUnknown     ClockClass = ptp.ClockClass58
)

// GrandmasterInfo describes the ultimate time source backing an
// instance's current offer, whether that's a real PTP grandmaster, an
// NTP/chrony server's reported stratum, or the local free-running
// oscillator describing itself.
type GrandmasterInfo struct {
	ClockID       ptp.ClockIdentity
	Remote        bool
	ClockClass    ClockClass
	TimeSource    ptp.TimeSource
	AccuracyNS    float64 // +Inf if unknown
	AllanVariance float64
	StepsRemoved  uint16
	TimeTraceable bool
	FreqTraceable bool
}

// Status is the snapshot a sync module publishes each time it advances
// its protocol. The engine and the BIC selector only ever see instances
// through this shape, never through module-kind-specific internals.
type Status struct {
	State            State
	Alarms           Alarms
	Constraints      Constraints
	ClockHandle      string // opaque identifier of the local clock this instance disciplines
	OffsetFromMaster sfptime.Timespec
	UserPriority     int
	Grandmaster      GrandmasterInfo
	LocalAccuracyNS  float64
	ClusteringScore  int
}

// Equal reports whether two statuses are indistinguishable for the
// purposes of the "meaningful change" test a sync module runs each tick:
// state, alarms, grandmaster identity/class/accuracy/variance/steps,
// clustering score and offset all have to match.
func (s Status) Equal(o Status) bool {
	return s.State == o.State &&
		s.Alarms == o.Alarms &&
		s.Grandmaster.ClockID == o.Grandmaster.ClockID &&
		s.Grandmaster.ClockClass == o.Grandmaster.ClockClass &&
		s.Grandmaster.AccuracyNS == o.Grandmaster.AccuracyNS &&
		s.Grandmaster.AllanVariance == o.Grandmaster.AllanVariance &&
		s.Grandmaster.StepsRemoved == o.Grandmaster.StepsRemoved &&
		s.ClusteringScore == o.ClusteringScore &&
		s.OffsetFromMaster.Equal(o.OffsetFromMaster)
}
