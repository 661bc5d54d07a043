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

// Package config reads and validates the daemon's on-disk YAML
// configuration: a set of sync instances of various kinds sharing one
// global section, generalizing the sptp client's single-purpose
// Config/Validate/ReadConfig trio (ptp/sptp/client/config.go) to the
// multi-kind, multi-instance daemon.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	ptp "github.com/Xilinx-CNS/sfptpd-sub003/ptp/protocol"
	"github.com/Xilinx-CNS/sfptpd-sub003/internal/syncmodule"
	"github.com/Xilinx-CNS/sfptpd-sub003/timestamp"
)

// InstanceConfig is one configured sync instance. Only the fields
// relevant to Kind are expected to be populated; Validate enforces that.
type InstanceConfig struct {
	Name             string               `yaml:"name"`
	Kind             string               `yaml:"kind"` // one of freerun|ptp|pps|ntp|chrony|gps
	Iface            string               `yaml:"iface"`
	Timestamping     timestamp.Timestamp  `yaml:"timestamping"`
	Servers          map[string]int       `yaml:"servers"`
	PPSDevice        string               `yaml:"pps_device"`
	GPSDevice        string               `yaml:"gps_device"`
	ChronySocket     string               `yaml:"chrony_socket"`
	DSCP             int                  `yaml:"dscp"`
	Interval         time.Duration        `yaml:"interval"`
	UserPriority     int                  `yaml:"priority"`
	MustBeSelected   bool                 `yaml:"must_be_selected"`
	CannotBeSelected bool                 `yaml:"cannot_be_selected"`
	MaxClockClass    ptp.ClockClass       `yaml:"max_clock_class"`
	MaxClockAccuracy ptp.ClockAccuracy    `yaml:"max_clock_accuracy"`
}

// Validate checks one instance's configuration is internally consistent
// and that Kind-specific required fields are present.
func (c *InstanceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must be specified")
	}
	kind, err := ParseKind(c.Kind)
	if err != nil {
		return fmt.Errorf("instance %s: %w", c.Name, err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("instance %s: interval must be greater than zero", c.Name)
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("instance %s: dscp must be between 0 and 63", c.Name)
	}
	if c.MustBeSelected && c.CannotBeSelected {
		return fmt.Errorf("instance %s: must_be_selected and cannot_be_selected are mutually exclusive", c.Name)
	}

	switch kind {
	case syncmodule.KindPTP:
		if len(c.Servers) == 0 {
			return fmt.Errorf("instance %s: at least one grandmaster server must be specified", c.Name)
		}
		if c.Iface == "" {
			return fmt.Errorf("instance %s: iface must be specified", c.Name)
		}
		if c.Timestamping != timestamp.HW && c.Timestamping != timestamp.SW {
			return fmt.Errorf("instance %s: only %q and %q timestamping is supported", c.Name, timestamp.HW, timestamp.SW)
		}
	case syncmodule.KindPPS:
		if c.PPSDevice == "" {
			return fmt.Errorf("instance %s: pps_device must be specified", c.Name)
		}
	case syncmodule.KindNTP:
		if len(c.Servers) == 0 {
			return fmt.Errorf("instance %s: at least one NTP server must be specified", c.Name)
		}
	case syncmodule.KindChrony:
		if c.ChronySocket == "" {
			return fmt.Errorf("instance %s: chrony_socket must be specified", c.Name)
		}
	case syncmodule.KindGPS:
		if c.GPSDevice == "" {
			return fmt.Errorf("instance %s: gps_device must be specified", c.Name)
		}
	case syncmodule.KindFreerun:
		// no kind-specific requirements
	}
	return nil
}

// ParseKind maps the on-disk kind string to syncmodule.Kind.
func ParseKind(s string) (syncmodule.Kind, error) {
	switch s {
	case "freerun":
		return syncmodule.KindFreerun, nil
	case "ptp":
		return syncmodule.KindPTP, nil
	case "pps":
		return syncmodule.KindPPS, nil
	case "ntp":
		return syncmodule.KindNTP, nil
	case "chrony":
		return syncmodule.KindChrony, nil
	case "gps":
		return syncmodule.KindGPS, nil
	default:
		return 0, fmt.Errorf("unknown instance kind %q", s)
	}
}

// GlobalConfig holds the ambient, daemon-wide settings: logging,
// monitoring, message-pool sizing, link-table polling and state-dump
// cadence.
type GlobalConfig struct {
	MonitoringPort           int           `yaml:"monitoring_port"`
	MetricsAggregationWindow time.Duration `yaml:"metrics_aggregation_window"`
	MessagePoolSize          int           `yaml:"message_pool_size"`
	LinkTablePollInterval    time.Duration `yaml:"link_table_poll_interval"`
	StateDumpInterval        time.Duration `yaml:"state_dump_interval"`
	StateDumpPath            string        `yaml:"state_dump_path"`
	Verbose                  bool          `yaml:"verbose"`
	RTSignalCount             int          `yaml:"rt_signal_count"`
}

// Config is the daemon's top-level, on-disk configuration.
type Config struct {
	Global    GlobalConfig      `yaml:"global"`
	Instances []InstanceConfig  `yaml:"instances"`
}

// Default returns a Config initialized with the daemon's default
// ambient settings and no instances; callers (the CLI, tests) add
// instances before calling Validate.
func Default() *Config {
	return &Config{
		Global: GlobalConfig{
			MonitoringPort:           4269,
			MetricsAggregationWindow: 60 * time.Second,
			MessagePoolSize:          256,
			LinkTablePollInterval:    10 * time.Second,
			StateDumpInterval:        60 * time.Second,
			StateDumpPath:            "/var/lib/sfptpd/state-dump",
			RTSignalCount:            4,
		},
	}
}

// Validate checks the daemon-wide settings and every instance,
// additionally rejecting duplicate instance names since the engine's
// registry is keyed on them.
func (c *Config) Validate() error {
	if c.Global.MonitoringPort < 0 {
		return fmt.Errorf("global.monitoring_port must be 0 or positive")
	}
	if c.Global.MetricsAggregationWindow <= 0 {
		return fmt.Errorf("global.metrics_aggregation_window must be greater than zero")
	}
	if c.Global.MessagePoolSize <= 0 {
		return fmt.Errorf("global.message_pool_size must be greater than zero")
	}
	if c.Global.RTSignalCount < 0 {
		return fmt.Errorf("global.rt_signal_count must be 0 or positive")
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one sync instance must be configured")
	}

	seen := make(map[string]bool, len(c.Instances))
	for i := range c.Instances {
		inst := &c.Instances[i]
		if err := inst.Validate(); err != nil {
			return err
		}
		if seen[inst.Name] {
			return fmt.Errorf("duplicate instance name %q", inst.Name)
		}
		seen[inst.Name] = true
	}
	return nil
}

// ReadConfig reads and parses a daemon configuration from path, starting
// from Default() so unspecified fields keep their defaults, matching the
// sptp client's ReadConfig pattern.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}
