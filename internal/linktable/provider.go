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

package linktable

import (
	"fmt"
	"net"

	"github.com/jsimonetti/rtnetlink/rtnl"
)

// DiscoverRows enumerates the host's network interfaces over netlink and
// builds the Row set for a new Table version. Bonding and VLAN
// relationships beyond basic interface enumeration are out of scope for
// this discovery helper: a production link-table provider enriches rows
// from /sys/class/net the way sfptpd's netlink monitor does, but the
// rtnl-sourced base listing below is what the core's Owner actually
// needs to drive bond/VLAN/physical re-evaluation in sync modules.
func DiscoverRows() ([]Row, error) {
	conn, err := rtnl.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("linktable: netlink dial: %w", err)
	}
	defer conn.Close()

	links, err := conn.Links()
	if err != nil {
		return nil, fmt.Errorf("linktable: listing links: %w", err)
	}

	rows := make([]Row, 0, len(links))
	for _, l := range links {
		rows = append(rows, rowFromLink(l))
	}
	return rows, nil
}

func rowFromLink(l net.Interface) Row {
	return Row{
		IfIndex: l.Index,
		IfName:  l.Name,
		Type:    classifyInterface(l.Name),
		Up:      l.Flags&net.FlagUp != 0,
		L2Addr:  l.HardwareAddr,
	}
}

// classifyInterface guesses an interface's Type from its name, the same
// heuristic sfptpd's link table falls back to when sysfs bonding
// metadata isn't read: bond*/team*/br*/vlan naming conventions, physical
// otherwise. Callers that need precise bond membership or VLAN id should
// enrich the Row further from /sys/class/net before publishing.
func classifyInterface(name string) InterfaceType {
	switch {
	case hasPrefix(name, "bond"):
		return TypeBond
	case hasPrefix(name, "team"):
		return TypeTeam
	case hasPrefix(name, "br"):
		return TypeBridge
	case hasPrefix(name, "vlan"):
		return TypeVLAN
	default:
		return TypePhysical
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
