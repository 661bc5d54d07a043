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

package ntpmod

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/ntp/control"
)

type fakeControl struct {
	fail atomic.Bool
	data []byte
}

func (f *fakeControl) Communicate(req *control.NTPControlMsgHead) (*control.NTPControlMsg, error) {
	if f.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return &control.NTPControlMsg{
		NTPControlMsgHead: control.NTPControlMsgHead{REMOp: control.MakeREMOp(true, false, false, control.OpCode(req.GetOperation()))},
		Data:              f.data,
	}, nil
}

func TestNTPModulePublishesSlaveWhenSynchronised(t *testing.T) {
	ctl := &fakeControl{data: []byte("stratum=2, leap=0, offset=0.000321, rootdisp=0.012500")}
	m := New(Config{Name: "ntp0", Interval: 5 * time.Millisecond}, ctl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool { return m.Status().State == syncmodule.StateSlave }, time.Second, 5*time.Millisecond)
	require.Equal(t, syncmodule.ClockClassHoldover, m.Status().Grandmaster.ClockClass)
}

func TestNTPModuleRaisesAlarmOnSocketFailure(t *testing.T) {
	ctl := &fakeControl{}
	ctl.fail.Store(true)
	m := New(Config{Name: "ntp1", Interval: 5 * time.Millisecond}, ctl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool { return m.Status().Alarms.Has(syncmodule.AlarmNoTimeOfDay) }, time.Second, 5*time.Millisecond)
}

func TestNTPModuleListeningWhenNotSynchronised(t *testing.T) {
	ctl := &fakeControl{data: []byte("stratum=16, leap=3, offset=0, rootdisp=0")}
	m := New(Config{Name: "ntp2", Interval: 5 * time.Millisecond}, ctl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Thread().Start(ctx)
	defer m.Thread().Shutdown()

	require.Eventually(t, func() bool { return m.Status().State == syncmodule.StateListening }, time.Second, 5*time.Millisecond)
}
