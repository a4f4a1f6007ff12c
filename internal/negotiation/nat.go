package negotiation

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10. WARP, Tailscale and carrier-grade NATs live
// here and rarely allow direct connectivity.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or CGNAT, where only TURN is likely to work.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if restrictiveInterface(iface.Name, addrs) {
			return true
		}
	}
	return false
}

func restrictiveInterface(name string, addrs []net.Addr) bool {
	name = strings.ToLower(name)
	for _, n := range tunnelNames {
		if strings.Contains(name, n) {
			return true
		}
	}

	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
