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

import "strings"

// Alarms is a bitmask over the closed set of conditions a sync module can
// raise against itself. Any bit set disqualifies the instance from the
// BIC selector's NO_ALARMS rule.
type Alarms uint32

const (
	AlarmNoSyncPkts Alarms = 1 << iota
	AlarmNoFollowUps
	AlarmNoDelayResps
	AlarmPPSNoSignal
	AlarmPPSSeqNumError
	AlarmNoTimeOfDay
	AlarmPPSBadSignal
	AlarmNoInterface
	AlarmClockCtrlFailure
	AlarmClockNearEpoch
	AlarmCapsMismatch
	AlarmClusteringThresholdExceeded
	AlarmSustainedSyncFailure
	AlarmNoRXTimestamps
	AlarmNoTXTimestamps
	AlarmServoFault
	AlarmForcedToPassive
	AlarmGNSSNoFix
)

var alarmNames = []struct {
	bit  Alarms
	name string
}{
	{AlarmNoSyncPkts, "no-sync-pkts"},
	{AlarmNoFollowUps, "no-follow-ups"},
	{AlarmNoDelayResps, "no-delay-resps"},
	{AlarmPPSNoSignal, "pps-no-signal"},
	{AlarmPPSSeqNumError, "pps-seq-num-error"},
	{AlarmNoTimeOfDay, "no-time-of-day"},
	{AlarmPPSBadSignal, "pps-bad-signal"},
	{AlarmNoInterface, "no-interface"},
	{AlarmClockCtrlFailure, "clock-ctrl-failure"},
	{AlarmClockNearEpoch, "clock-near-epoch"},
	{AlarmCapsMismatch, "caps-mismatch"},
	{AlarmClusteringThresholdExceeded, "clustering-threshold-exceeded"},
	{AlarmSustainedSyncFailure, "sustained-sync-failure"},
	{AlarmNoRXTimestamps, "no-rx-timestamps"},
	{AlarmNoTXTimestamps, "no-tx-timestamps"},
	{AlarmServoFault, "servo-fault"},
	{AlarmForcedToPassive, "forced-to-passive"},
	{AlarmGNSSNoFix, "gnss-no-fix"},
}

// Set returns the mask with bit raised. Setting an already-set alarm is a
// no-op, i.e. the operation is idempotent.
func (a Alarms) Set(bit Alarms) Alarms { return a | bit }

// Clear returns the mask with bit lowered. Clearing an already-clear
// alarm is a no-op.
func (a Alarms) Clear(bit Alarms) Alarms { return a &^ bit }

// Has reports whether bit is set.
func (a Alarms) Has(bit Alarms) bool { return a&bit != 0 }

// None reports whether no alarm is set, the precondition for the BIC
// selector's NO_ALARMS rule.
func (a Alarms) None() bool { return a == 0 }

// Names renders the set alarms as their stable, test-friendly names in
// declaration order.
func (a Alarms) Names() []string {
	var names []string
	for _, e := range alarmNames {
		if a.Has(e.bit) {
			names = append(names, e.name)
		}
	}
	return names
}

func (a Alarms) String() string {
	if a == 0 {
		return "none"
	}
	return strings.Join(a.Names(), ",")
}
