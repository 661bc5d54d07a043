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

// Package sfptime implements the extended timespec used throughout the
// daemon: signed seconds, nanoseconds and a Q0.32 sub-nanosecond fraction.
// It is the arithmetic substrate the PTP timestamp collator and the servo
// use to avoid losing sub-ns precision across repeated add/sub.
package sfptime

import (
	"fmt"
	"math"
)

// nsPerSec is the number of nanoseconds in a second.
const nsPerSec = 1_000_000_000

// fracPerNs is 2**32, the number of Q0.32 fraction units per nanosecond.
const fracPerNs = 1 << 32

// Timespec is a signed time value with sub-nanosecond precision: Sec is
// whole seconds, Nsec is 0..999999999 nanoseconds, NsecFrac is a Q0.32
// fraction of a nanosecond. The sign lives entirely in Sec; Nsec and
// NsecFrac are always non-negative, matching the source's normalized form.
type Timespec struct {
	Sec      int64
	Nsec     uint32
	NsecFrac uint32
}

// Zero is the additive identity.
var Zero = Timespec{}

// FromSeconds builds a Timespec representing an integer number of seconds.
func FromSeconds(sec int64) Timespec {
	return Timespec{Sec: sec}
}

// FromNanoseconds builds a Timespec from an integer nanosecond count.
func FromNanoseconds(ns int64) Timespec {
	sec := ns / nsPerSec
	rem := ns % nsPerSec
	if rem < 0 {
		rem += nsPerSec
		sec--
	}
	return Timespec{Sec: sec, Nsec: uint32(rem)}
}

// FromFloatSeconds builds a Timespec from a float64 count of seconds,
// preserving the sub-nanosecond fraction.
func FromFloatSeconds(f float64) Timespec {
	sec := math.Floor(f)
	frac := (f - sec) * nsPerSec
	ns := math.Floor(frac)
	subNs := (frac - ns) * fracPerNs
	t := Timespec{Sec: int64(sec), Nsec: uint32(ns), NsecFrac: uint32(subNs)}
	return t.normalize()
}

// FromFloatNanoseconds builds a Timespec from a float64 count of
// nanoseconds.
func FromFloatNanoseconds(ns float64) Timespec {
	return FromFloatSeconds(ns / nsPerSec)
}

// FromScaledNanoseconds builds a Timespec from a Q16.16 fixed-point
// nanosecond value, the representation used by PTP correction fields.
func FromScaledNanoseconds(scaled int64) Timespec {
	whole := scaled >> 16
	frac := uint32(scaled&0xffff) << 16 // promote Q16.16 frac to Q0.32
	return FromNanoseconds(whole).addFrac(frac)
}

// New builds a Timespec from its three raw fields and normalizes it.
func New(sec int64, nsec uint32, nsecFrac uint32) Timespec {
	t := Timespec{Sec: sec, Nsec: nsec, NsecFrac: nsecFrac}
	return t.normalize()
}

func (t Timespec) addFrac(frac uint32) Timespec {
	sum := uint64(t.NsecFrac) + uint64(frac)
	t.NsecFrac = uint32(sum)
	if sum >= fracPerNs {
		t.Nsec++
	}
	return t.normalize()
}

// normalize carries fractional overflow into Nsec and Nsec overflow into
// Sec, so that afterwards 0 <= Nsec < 1e9. NsecFrac never needs carrying
// into Sec directly; it only ever overflows into Nsec by at most one unit,
// which the add/sub helpers already account for.
func (t Timespec) normalize() Timespec {
	if t.Nsec >= nsPerSec {
		t.Sec += int64(t.Nsec / nsPerSec)
		t.Nsec %= nsPerSec
	}
	return t
}

// IsZero reports whether t compares equal to the zero Timespec.
func (t Timespec) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0 && t.NsecFrac == 0
}

// Equal reports field-wise equality.
func (t Timespec) Equal(o Timespec) bool {
	return t.Sec == o.Sec && t.Nsec == o.Nsec && t.NsecFrac == o.NsecFrac
}

// Compare returns -1, 0 or 1 using lexicographic order over (Sec, Nsec,
// NsecFrac), matching real-number ordering of normalized values.
func (t Timespec) Compare(o Timespec) int {
	switch {
	case t.Sec != o.Sec:
		return cmp64(t.Sec, o.Sec)
	case t.Nsec != o.Nsec:
		return cmp64(int64(t.Nsec), int64(o.Nsec))
	default:
		return cmp64(int64(t.NsecFrac), int64(o.NsecFrac))
	}
}

func cmp64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Add returns t + o.
func (t Timespec) Add(o Timespec) Timespec {
	sumFrac := uint64(t.NsecFrac) + uint64(o.NsecFrac)
	carry := uint32(sumFrac >> 32)
	return New(t.Sec+o.Sec, t.Nsec+o.Nsec+carry, uint32(sumFrac))
}

// Negate returns -t.
func (t Timespec) Negate() Timespec {
	// borrow through nsec_frac, then nsec, then sec, so the result is
	// still in normalized form (0 <= nsec < 1e9, 0 <= nsec_frac).
	if t.NsecFrac != 0 {
		t.NsecFrac = uint32(fracPerNs) - t.NsecFrac
		t.Nsec++
	}
	if t.Nsec != 0 {
		t.Nsec = nsPerSec - t.Nsec
		t.Sec++
	}
	t.Sec = -t.Sec
	return t
}

// Sub returns t - o.
func (t Timespec) Sub(o Timespec) Timespec {
	return t.Add(o.Negate())
}

// ToFloatSeconds converts to a float64 count of seconds.
func (t Timespec) ToFloatSeconds() float64 {
	return float64(t.Sec) + float64(t.Nsec)/nsPerSec + float64(t.NsecFrac)/nsPerSec/fracPerNs
}

// ToFloatNanoseconds converts to a float64 count of nanoseconds, which is
// the representation the PTP timestamp collator uses for subtraction so
// that sub-nanosecond corrections aren't lost before the final rounding.
func (t Timespec) ToFloatNanoseconds() float64 {
	return t.ToFloatSeconds() * nsPerSec
}

// ToNanoseconds rounds to the nearest integer number of nanoseconds.
func (t Timespec) ToNanoseconds() int64 {
	return int64(math.Round(t.ToFloatNanoseconds()))
}

func (t Timespec) String() string {
	return fmt.Sprintf("%d.%09d%+d/2^32", t.Sec, t.Nsec, int32(t.NsecFrac))
}
