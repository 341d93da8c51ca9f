package geo

import (
	"fmt"
	"net"
)

// AnonymizeIP truncates an IP address so it no longer identifies a single
// host. IPv4 addresses lose the last octet; IPv6 addresses keep only the
// first three groups. Unparseable input comes back empty.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}

	v6 := parsed.To16()
	return fmt.Sprintf("%x:%x:%x::",
		uint16(v6[0])<<8|uint16(v6[1]),
		uint16(v6[2])<<8|uint16(v6[3]),
		uint16(v6[4])<<8|uint16(v6[5]),
	)
}
