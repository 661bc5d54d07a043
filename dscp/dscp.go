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

// Package dscp sets the DSCP (Differentiated Services Code Point) value
// on outgoing packets of a socket, so that PTP and NTP traffic can be
// marked for priority treatment by network gear along the path.
package dscp

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Enable sets dscp on fd's outgoing packets, using IP_TOS for an IPv4
// socket (ip is an IPv4 address) and IPV6_TCLASS for an IPv6 one. dscp
// occupies the top 6 bits of the traffic-class octet, so it is shifted
// left by 2 before being written to the socket option.
func Enable(fd int, ip net.IP, dscpValue int) error {
	tos := dscpValue << 2
	if ip4 := ip.To4(); ip4 != nil {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
			return fmt.Errorf("dscp: setting IP_TOS: %w", err)
		}
		return nil
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos); err != nil {
		return fmt.Errorf("dscp: setting IPV6_TCLASS: %w", err)
	}
	return nil
}
