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

// Package ptpdataset collates the four PTP event timestamps (or the
// three peer-delay timestamps) of one exchange into offset-from-master
// and mean path delay, the way the sptp client's measurements type
// reduces t1..t4 into MeasurementResult, but generalized to also accept
// the peer-delay mechanism and to expose explicit mode-exclusivity and
// completeness as first-class state rather than an incidental side
// effect of which setter was last called.
package ptpdataset

import (
	"fmt"
	"sync"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
)

// event is one timestamped leg of an exchange.
type event struct {
	tx, rx     sfptime.Timespec
	correction sfptime.Timespec
	valid      bool
}

// Dataset accumulates the up-to-four event timestamps of one PTP port's
// exchange and derives path delay and offset from master whenever enough
// of them are present. It is safe for concurrent use, though in practice
// a single sync module thread owns it exclusively.
type Dataset struct {
	mu sync.Mutex

	m2s event // master -> slave (Sync/Follow_Up)
	s2m event // slave -> master (Delay_Req/Delay_Resp), end-to-end mode
	s2p event // slave -> peer (Pdelay_Req), peer-delay mode
	p2s event // peer -> slave (Pdelay_Resp[_Follow_Up]), peer-delay mode

	complete         bool
	pathDelay        sfptime.Timespec
	offsetFromMaster sfptime.Timespec
}

// New returns an empty, incomplete Dataset.
func New() *Dataset {
	return &Dataset{}
}

// SetM2S records the master-to-slave timestamps of a Sync/Follow_Up pair.
func (d *Dataset) SetM2S(tx, rx, correction sfptime.Timespec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m2s = event{tx: tx, rx: rx, correction: correction, valid: true}
	d.recompute()
}

// ClearM2S invalidates the master-to-slave leg.
func (d *Dataset) ClearM2S() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m2s = event{}
	d.recompute()
}

// SetS2M records the slave-to-master timestamps of a Delay_Req/Delay_Resp
// pair (end-to-end delay mechanism). Setting s2m invalidates any
// in-progress peer-delay measurement: a dataset only ever reflects one
// delay mechanism at a time.
func (d *Dataset) SetS2M(tx, rx, correction sfptime.Timespec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s2m = event{tx: tx, rx: rx, correction: correction, valid: true}
	d.s2p = event{}
	d.p2s = event{}
	d.recompute()
}

// ClearS2M invalidates the end-to-end leg.
func (d *Dataset) ClearS2M() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s2m = event{}
	d.recompute()
}

// SetP2P records the peer-delay mechanism's two legs: Pdelay_Req
// (s2pTx/s2pRx) and Pdelay_Resp/Pdelay_Resp_Follow_Up (p2sTx/p2sRx).
// correction is the peer-delay response's correction field; the
// Pdelay_Req leg's own correction is fixed at zero per the PTP spec.
// Setting peer-delay data invalidates any in-progress end-to-end
// measurement.
func (d *Dataset) SetP2P(s2pTx, s2pRx, p2sTx, p2sRx, correction sfptime.Timespec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s2p = event{tx: s2pTx, rx: s2pRx, correction: sfptime.Zero, valid: true}
	d.p2s = event{tx: p2sTx, rx: p2sRx, correction: correction, valid: true}
	d.s2m = event{}
	d.recompute()
}

// ClearP2P invalidates the peer-delay legs.
func (d *Dataset) ClearP2P() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.s2p = event{}
	d.p2s = event{}
	d.recompute()
}

// recompute derives path delay and offset from master if the dataset now
// holds a complete set of timestamps, and marks complete=false otherwise.
// Must be called with d.mu held.
func (d *Dataset) recompute() {
	d.complete = false

	switch {
	case d.m2s.valid && d.s2m.valid:
		roundTrip := d.s2m.rx.Sub(d.s2m.tx).ToFloatNanoseconds() + d.m2s.rx.Sub(d.m2s.tx).ToFloatNanoseconds()
		corrections := d.s2m.correction.ToFloatNanoseconds() + d.m2s.correction.ToFloatNanoseconds()
		pathDelayNs := (roundTrip - corrections) / 2
		d.pathDelay = sfptime.FromFloatNanoseconds(pathDelayNs)
	case d.m2s.valid && d.s2p.valid && d.p2s.valid:
		roundTrip := d.s2p.rx.Sub(d.s2p.tx).ToFloatNanoseconds() + d.p2s.rx.Sub(d.p2s.tx).ToFloatNanoseconds()
		// s2p.correction is fixed at zero; only p2s carries a correction.
		pathDelayNs := (roundTrip - d.p2s.correction.ToFloatNanoseconds()) / 2
		d.pathDelay = sfptime.FromFloatNanoseconds(pathDelayNs)
	default:
		return
	}

	offsetNs := d.m2s.rx.Sub(d.m2s.tx).ToFloatNanoseconds() - d.m2s.correction.ToFloatNanoseconds() - d.pathDelay.ToFloatNanoseconds()
	d.offsetFromMaster = sfptime.FromFloatNanoseconds(offsetNs)
	d.complete = true
}

// Complete reports whether the dataset holds a full end-to-end
// ({m2s,s2m}) or peer-delay ({m2s,s2p,p2s}) set of valid timestamps.
func (d *Dataset) Complete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.complete
}

// ErrIncomplete is returned by OffsetFromMaster/PathDelay when the
// dataset has not yet derived a value.
var ErrIncomplete = fmt.Errorf("ptpdataset: incomplete, no offset/delay available")

// OffsetFromMaster returns the derived offset, valid only when Complete.
func (d *Dataset) OffsetFromMaster() (sfptime.Timespec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.complete {
		return sfptime.Zero, ErrIncomplete
	}
	return d.offsetFromMaster, nil
}

// PathDelay returns the derived mean path delay, valid only when
// Complete.
func (d *Dataset) PathDelay() (sfptime.Timespec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.complete {
		return sfptime.Zero, ErrIncomplete
	}
	return d.pathDelay, nil
}

// PeerDelayActive reports whether the dataset currently holds peer-delay
// (rather than end-to-end) timestamps.
func (d *Dataset) PeerDelayActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s2p.valid || d.p2s.valid
}

// EndToEndActive reports whether the dataset currently holds end-to-end
// timestamps.
func (d *Dataset) EndToEndActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s2m.valid
}
