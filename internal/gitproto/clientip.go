package gitproto

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// clientIPResolver resolves the logical client address for a request,
// trusting the X-Forwarded-For header only when the immediate peer
// (RemoteAddr) falls inside one of the configured proxy CIDR blocks.
type clientIPResolver struct {
	trusted []*net.IPNet
}

func newClientIPResolver(trustedProxies []string) clientIPResolver {
	return clientIPResolver{trusted: parseTrustedProxyCIDRs(trustedProxies)}
}

func parseTrustedProxyCIDRs(cidrs []string) []*net.IPNet {
	result := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if ip := net.ParseIP(value); ip != nil {
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip = v4
				bits = 32
			}
			result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		_, block, err := net.ParseCIDR(value)
		if err != nil {
			slog.Warn("invalid trusted proxy CIDR entry; ignoring", "cidr", value, "error", err)
			continue
		}
		result = append(result, block)
	}
	return result
}

// fromRequest returns the resolved client address: the first entry of
// X-Forwarded-For when RemoteAddr is a trusted proxy, otherwise RemoteAddr's
// host portion verbatim.
func (r clientIPResolver) fromRequest(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(req.RemoteAddr)
	}

	if r.isTrusted(host) {
		if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
			if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
				return first
			}
		}
	}
	return host
}

func (r clientIPResolver) isTrusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, block := range r.trusted {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
