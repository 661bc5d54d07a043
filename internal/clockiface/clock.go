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

// Package clockiface is the handle-addressed clock abstraction §6
// requires: compare/adjtime/adjfreq/step/caps over either the system
// clock or a PTP hardware clock, so that only one sync instance ever
// holds CLOCK_CTRL for a given handle at a time (enforced one level up,
// by the engine). It is a thin, domain-renamed wrapper over the
// clock_adjtime syscall helpers in clock/ and the PHC device ioctls in
// phc/.
package clockiface

import (
	"fmt"
	"os"
	"time"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/clock"
	"github.com/Xilinx-CNS/sfptpd-sub003/phc"
)

func openDevice(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

// Handle opaquely names a clock: either the host's CLOCK_REALTIME or a
// PHC device path such as "/dev/ptp0". Sync modules never dereference a
// Handle directly; they pass it back to this package's functions.
type Handle struct {
	name    string
	clockID int32
	device  *phc.Device // nil for CLOCK_REALTIME
}

// System is the handle for the host's system realtime clock.
var System = Handle{name: "system", clockID: clockRealtime}

const clockRealtime int32 = 0 // unix.CLOCK_REALTIME

// Name returns the handle's opaque identifier, usable as Status.ClockHandle.
func (h Handle) Name() string { return h.name }

// FromPHCDevice opens iface's PTP hardware clock device (resolved via
// phc.IfaceToPHCDevice the way the sptp client resolves its interface
// config) as a clock handle.
func FromPHCDevice(iface string) (Handle, error) {
	devPath, err := phc.IfaceToPHCDevice(iface)
	if err != nil {
		return Handle{}, fmt.Errorf("clockiface: resolving PHC device for %s: %w", iface, err)
	}
	f, err := openDevice(devPath)
	if err != nil {
		return Handle{}, fmt.Errorf("clockiface: opening %s: %w", devPath, err)
	}
	dev := phc.FromFile(f)
	return Handle{name: devPath, clockID: dev.ClockID(), device: dev}, nil
}

// Caps describes what a Handle supports, mirroring linktable's
// TimestampingCaps but scoped to the clock's own adjustment range.
type Caps struct {
	MaxFreqAdjPPB float64
	CanStep       bool
}

// CapsOf reads handle's adjustment envelope.
func CapsOf(h Handle) (Caps, error) {
	if h.device == nil {
		return Caps{MaxFreqAdjPPB: phc.DefaultMaxClockFreqPPB, CanStep: true}, nil
	}
	maxFreq, err := h.device.MaxFreqAdjPPB()
	if err != nil {
		return Caps{}, fmt.Errorf("clockiface: reading caps: %w", err)
	}
	return Caps{MaxFreqAdjPPB: maxFreq, CanStep: true}, nil
}

// Compare returns a − b as an extended timespec. a and b are timestamps
// the caller has already read, one from each clock being compared; this
// function reads no clock itself. It is provided for completeness
// against §6's compare(a, b) -> timespec operation.
func Compare(a, b time.Time) sfptime.Timespec {
	return sfptime.FromFloatSeconds(a.Sub(b).Seconds())
}

// Adjfreq sets handle's frequency offset in parts-per-billion.
func Adjfreq(h Handle, ppb float64) error {
	if h.device != nil {
		return h.device.AdjFreq(ppb)
	}
	_, err := clock.AdjFreqPPB(h.clockID, ppb)
	return err
}

// Adjtime reads back handle's currently applied frequency offset.
func Adjtime(h Handle) (ppb float64, err error) {
	if h.device != nil {
		return h.device.FreqPPB()
	}
	ppb, _, err = clock.FrequencyPPB(h.clockID)
	return ppb, err
}

// Step steps handle's time by offset, forwards or backwards.
func Step(h Handle, offset sfptime.Timespec) error {
	d := time.Duration(offset.ToNanoseconds())
	if h.device != nil {
		return h.device.Step(d)
	}
	_, err := clock.Step(h.clockID, d)
	return err
}
