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

package ptp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/sfptime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	ptp "github.com/Xilinx-CNS/sfptpd-sub003/ptp/protocol"
)

type fakeExchanger struct {
	fail    atomic.Bool
	results map[string]Exchange
}

func (f *fakeExchanger) RunOnce(_ context.Context, servers []string, _ time.Duration) map[string]Exchange {
	if f.fail.Load() {
		out := map[string]Exchange{}
		for _, s := range servers {
			out[s] = Exchange{Err: context.DeadlineExceeded}
		}
		return out
	}
	return f.results
}

func goodExchange(clockClass ptp.ClockClass, offsetNS int64) Exchange {
	base := sfptime.FromSeconds(1000)
	return Exchange{
		Announce: ptp.Announce{
			AnnounceBody: ptp.AnnounceBody{
				GrandmasterClockQuality: ptp.ClockQuality{ClockClass: clockClass, ClockAccuracy: ptp.ClockAccuracyNanosecond100},
				TimeSource:              ptp.TimeSourceGNSS,
			},
		},
		T1: base,
		T2: sfptime.FromFloatNanoseconds(float64(offsetNS)).Add(base),
		T3: base,
		T4: base,
	}
}

func TestPTPModulePicksBetterClockClassServer(t *testing.T) {
	ex := &fakeExchanger{results: map[string]Exchange{
		"10.0.0.1": goodExchange(ptp.ClockClass7, 500),
		"10.0.0.2": goodExchange(ptp.ClockClass6, 500),
	}}
	m := New(Config{Name: "ptp0", Servers: map[string]int{"10.0.0.1": 1, "10.0.0.2": 2}, Interval: 5 * time.Millisecond}, ex, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool {
		return m.Status().Grandmaster.ClockClass == ptp.ClockClass6
	}, time.Second, 5*time.Millisecond)
}

func TestPTPModuleRaisesAlarmWhenAllServersFail(t *testing.T) {
	ex := &fakeExchanger{}
	ex.fail.Store(true)
	m := New(Config{Name: "ptp1", Servers: map[string]int{"10.0.0.1": 1}, Interval: 5 * time.Millisecond}, ex, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool {
		return m.Status().Alarms.Has(syncmodule.AlarmNoSyncPkts)
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, syncmodule.StateListening, m.Status().State)
}
