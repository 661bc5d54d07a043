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

package stats

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
)

// EventRecord is one per-exchange record the optional remote monitor
// sink records, matching §6's {port-id, ref-port-id, seq, timestamps,
// computed offset/mpd, slave status, alarms}. json.Marshal/NewEncoder is
// stdlib rather than a pack-provided serialization library because the
// sink is a line-delimited NDJSON stream, the same shape ptp4u's and
// sptp's own JSON stats handlers already produce with encoding/json.
type EventRecord struct {
	PortID        string           `json:"port_id"`
	RefPortID     string           `json:"ref_port_id"`
	Seq           uint16           `json:"seq"`
	T1            sfptime.Timespec `json:"t1"`
	T2            sfptime.Timespec `json:"t2"`
	OffsetNS      float64          `json:"offset_ns"`
	PathDelayNS   float64          `json:"path_delay_ns"`
	SlaveState    string           `json:"slave_state"`
	Alarms        []string         `json:"alarms"`
}

// Monitor writes EventRecords as a line-delimited JSON stream. It is
// safe for concurrent use by multiple sync module threads.
type Monitor struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewMonitor wraps w as a Monitor sink.
func NewMonitor(w io.Writer) *Monitor {
	return &Monitor{enc: json.NewEncoder(w)}
}

// Record writes one event, returning any write error from the
// underlying stream (e.g. a broken pipe to a disconnected collector).
func (m *Monitor) Record(ev EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enc.Encode(ev)
}
