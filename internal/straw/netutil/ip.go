// Package netutil provides small network helpers shared across tiers.
package netutil

import (
	"net"
	"sync"
)

var (
	hostIPOnce sync.Once
	hostIP     string
)

// HostIP returns this machine's outbound IP address, the way a Slave
// learns its own address to fill the "slave" field of control-channel
// frames. The result is cached after the first successful lookup.
func HostIP() string {
	hostIPOnce.Do(func() {
		conn, err := net.Dial("udp", "8.8.8.8:80")
		if err != nil {
			hostIP = "127.0.0.1"
			return
		}
		defer conn.Close()
		hostIP = conn.LocalAddr().(*net.UDPAddr).IP.String()
	})
	return hostIP
}
