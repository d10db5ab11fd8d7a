package gitproto

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolverIgnoresForwardedHeaderByDefault(t *testing.T) {
	resolver := newClientIPResolver(nil)

	req := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.4")

	if got := resolver.fromRequest(req); got != "203.0.113.9" {
		t.Fatalf("fromRequest() = %q, want %q", got, "203.0.113.9")
	}
}

func TestClientIPResolverTrustsConfiguredProxyCIDR(t *testing.T) {
	resolver := newClientIPResolver([]string{"198.51.100.0/24"})

	req := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	req.RemoteAddr = "198.51.100.10:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.0.2.1")

	if got := resolver.fromRequest(req); got != "203.0.113.7" {
		t.Fatalf("fromRequest() = %q, want %q", got, "203.0.113.7")
	}
}

func TestClientIPResolverIgnoresForwardedHeaderFromUntrustedProxy(t *testing.T) {
	resolver := newClientIPResolver([]string{"10.0.0.0/8"})

	req := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	req.RemoteAddr = "198.51.100.10:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := resolver.fromRequest(req); got != "198.51.100.10" {
		t.Fatalf("fromRequest() = %q, want %q", got, "198.51.100.10")
	}
}

func TestClientIPResolverTrustsBareConfiguredIP(t *testing.T) {
	resolver := newClientIPResolver([]string{"198.51.100.10"})

	req := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	req.RemoteAddr = "198.51.100.10:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	if got := resolver.fromRequest(req); got != "203.0.113.7" {
		t.Fatalf("fromRequest() = %q, want %q", got, "203.0.113.7")
	}
}
