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

// sfptpd is the daemon entrypoint: it loads the on-disk configuration,
// builds one sync module per configured instance, registers them with
// the engine, and runs the selection/link-table/stats loops until a
// shutdown signal arrives. It generalizes cmd/sptp/main.go's
// flag/logrus/pprof wiring from a single-purpose unicast-PTP client into
// a multi-module daemon, using cobra (in place of sptp's bare flag
// package) since the daemon exposes a version subcommand alongside the
// root command's own flags.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "net/http/pprof"

	"github.com/Xilinx-CNS/sfptpd-sub003/internal/config"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/engine"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/linktable"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/modules/chronymod"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/modules/freerun"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/modules/gps"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/modules/ntpmod"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/runtime"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/stats"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/ntp/chrony"
	"github.com/Xilinx-CNS/sfptpd-sub003/ntp/control"
	"github.com/Xilinx-CNS/sfptpd-sub003/oscillatord"
)

// daemon holds everything main needs to tear down cleanly on shutdown.
type daemon struct {
	cfg     *config.Config
	eng     *engine.Engine
	pool    *runtime.Pool
	metrics *stats.Registry
	threads []*runtime.Thread
	conns   []net.Conn
}

// gpsReader adapts oscillatord.ReadStatus's io.ReadWriter-based free
// function to gps.Reader's no-argument method shape the module expects.
type gpsReader struct{ conn net.Conn }

func (r gpsReader) ReadStatus() (*oscillatord.Status, error) { return oscillatord.ReadStatus(r.conn) }

// build constructs one sync module per configured instance and
// registers it with the engine. PPS and PTP instances need a real
// hardware/network transport adapter (phc.PPSSink, a UDP+hardware-
// timestamping PTP Exchanger) that this pass does not wire end-to-end —
// see DESIGN.md's "Deferred wiring" section — so those two kinds are
// reported as a configuration error here rather than silently no-opped.
func build(cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg, eng: engine.New(len(cfg.Instances)), pool: runtime.NewPool(cfg.Global.MessagePoolSize, 4096), metrics: stats.NewRegistry()}

	onChange := func(instance string, status syncmodule.Status) {
		d.metrics.SetGauge("offset_ns", instance, status.OffsetFromMaster.ToFloatNanoseconds())
		d.metrics.SetGauge("selected", instance, boolToFloat(status.State == syncmodule.StateSlave))
	}

	for _, inst := range cfg.Instances {
		kind, err := config.ParseKind(inst.Kind)
		if err != nil {
			return nil, err
		}

		var m syncmodule.Module
		switch kind {
		case syncmodule.KindFreerun:
			m = freerun.New(freerun.Config{Name: inst.Name, Priority: inst.UserPriority, Interval: inst.Interval}, onChange)

		case syncmodule.KindChrony:
			conn, err := net.Dial("unixgram", inst.ChronySocket)
			if err != nil {
				return nil, fmt.Errorf("instance %s: dialing chronyd socket %q: %w", inst.Name, inst.ChronySocket, err)
			}
			d.conns = append(d.conns, conn)
			tracker := &chrony.Client{Connection: conn}
			m = chronymod.New(chronymod.Config{Name: inst.Name, Interval: inst.Interval, Priority: inst.UserPriority}, tracker, onChange)

		case syncmodule.KindGPS:
			conn, err := net.Dial("unix", inst.GPSDevice)
			if err != nil {
				return nil, fmt.Errorf("instance %s: dialing oscillatord socket %q: %w", inst.Name, inst.GPSDevice, err)
			}
			d.conns = append(d.conns, conn)
			m = gps.New(gps.Config{Name: inst.Name, Interval: inst.Interval, Priority: inst.UserPriority}, gpsReader{conn: conn}, onChange)

		case syncmodule.KindNTP:
			addr := ""
			for server := range inst.Servers {
				addr = server
				break
			}
			conn, err := net.Dial("udp", addr+":123")
			if err != nil {
				return nil, fmt.Errorf("instance %s: dialing ntpd control socket %q: %w", inst.Name, addr, err)
			}
			d.conns = append(d.conns, conn)
			ctl := &control.NTPClient{Connection: conn}
			m = ntpmod.New(ntpmod.Config{Name: inst.Name, Interval: inst.Interval, Priority: inst.UserPriority}, ctl, onChange)

		case syncmodule.KindPPS, syncmodule.KindPTP:
			return nil, fmt.Errorf("instance %s: kind %q has no production transport adapter wired in this build; see DESIGN.md", inst.Name, inst.Kind)

		default:
			return nil, fmt.Errorf("instance %s: unhandled kind %q", inst.Name, inst.Kind)
		}

		d.eng.Register(m)
		d.threads = append(d.threads, m.Thread())
	}
	return d, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// run starts every module's thread, the link-table poll loop and the
// periodic BIC selection loop, then blocks until ctx is cancelled.
func (d *daemon) run(ctx context.Context) error {
	for _, t := range d.threads {
		t.Start(ctx)
	}

	go d.metrics.Serve(d.cfg.Global.MonitoringPort)

	selectionTicker := time.NewTicker(time.Second)
	defer selectionTicker.Stop()
	linkTicker := time.NewTicker(d.cfg.Global.LinkTablePollInterval)
	defer linkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, conn := range d.conns {
				_ = conn.Close()
			}
			for _, t := range d.threads {
				t.Shutdown()
			}
			return nil

		case <-selectionTicker.C:
			d.eng.RunSelection(func(instance string, flags, mask syncmodule.ControlFlags) {
				if mod, ok := d.eng.GetSyncInstanceByName(instance); ok {
					env, err := d.pool.Alloc(syncmodule.MsgControl, syncmodule.ControlPayload{Instance: instance, Flags: flags, Mask: mask})
					if err != nil {
						log.WithError(err).Warn("sfptpd: control message pool exhausted")
						return
					}
					if err := mod.Thread().Send(env, false, nil); err != nil {
						_ = env.Free()
					}
				}
			})

		case <-linkTicker.C:
			rows, err := linktable.DiscoverRows()
			if err != nil {
				log.WithError(err).Warn("sfptpd: link table discovery failed")
				continue
			}
			if err := d.eng.PublishLinkTable(rows, d.pool); err != nil {
				log.WithError(err).Warn("sfptpd: link table publish failed")
			}
		}
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		pprofAddr  string
	)

	cmd := &cobra.Command{
		Use:   "sfptpd",
		Short: "Multi-reference time-synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.SetLevel(log.InfoLevel)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}

			cfg, err := config.ReadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validating config: %w", err)
			}

			if pprofAddr != "" {
				go func() {
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						log.WithError(err).Error("sfptpd: pprof listener exited")
					}
				}()
			}

			d, err := build(cfg)
			if err != nil {
				return fmt.Errorf("building sync instances: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				log.Info("sfptpd: shutdown signal received")
				cancel()
			}()

			return d.run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "/etc/sfptpd.yaml", "path to the daemon's YAML config")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose (debug-level) logging")
	cmd.Flags().StringVar(&pprofAddr, "pprof-addr", "", "address to have the profiler listen on, disabled if empty")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println("sfptpd-sub003 (dev)") },
	})

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
