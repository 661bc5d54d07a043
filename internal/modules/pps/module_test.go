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

package pps

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/servo"
)

type fakeSink struct {
	fail atomic.Bool
}

func (f *fakeSink) PollPPSSink() (time.Time, error) {
	if f.fail.Load() {
		return time.Time{}, errors.New("no pulse")
	}
	return time.Now(), nil
}

type fakeServo struct{}

func (fakeServo) Sample(offset int64, localTs uint64) (float64, servo.State) {
	return 0, servo.StateLocked
}

func TestPPSModulePublishesSlaveWhileSignalPresent(t *testing.T) {
	sink := &fakeSink{}
	var lastStatus syncmodule.Status
	m := New(Config{Name: "pps0", PHCPath: "/dev/ptp0", Interval: 10 * time.Millisecond}, sink, fakeServo{}, func(_ string, s syncmodule.Status) {
		lastStatus = s
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool { return m.Status().State == syncmodule.StateSlave }, time.Second, 5*time.Millisecond)
	require.False(t, lastStatus.Alarms.Has(syncmodule.AlarmPPSNoSignal))
}

func TestPPSModuleRaisesAlarmAfterSustainedMiss(t *testing.T) {
	sink := &fakeSink{}
	sink.fail.Store(true)
	m := New(Config{Name: "pps1", PHCPath: "/dev/ptp1", Interval: 5 * time.Millisecond}, sink, fakeServo{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool { return m.Status().Alarms.Has(syncmodule.AlarmPPSNoSignal) }, time.Second, 5*time.Millisecond)
	require.Equal(t, syncmodule.StateListening, m.Status().State)
}
