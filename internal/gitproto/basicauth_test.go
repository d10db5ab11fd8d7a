package gitproto

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseBasicAuthAbsent(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	creds, err := parseBasicAuth(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.present {
		t.Fatalf("expected credentials absent")
	}
}

func TestParseBasicAuthValid(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	enc := base64.StdEncoding.EncodeToString([]byte("alice:hunter2"))
	r.Header.Set("Authorization", "Basic "+enc)

	creds, err := parseBasicAuth(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !creds.present || creds.username != "alice" || creds.password != "hunter2" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestParseBasicAuthPasswordContainsColon(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
	enc := base64.StdEncoding.EncodeToString([]byte("bob:pat_abc:def"))
	r.Header.Set("Authorization", "Basic "+enc)

	creds, err := parseBasicAuth(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.password != "pat_abc:def" {
		t.Fatalf("password = %q, want %q", creds.password, "pat_abc:def")
	}
}

func TestParseBasicAuthMalformed(t *testing.T) {
	cases := []string{
		"Bearer sometoken",
		"Basic",
		"Basic !!!notbase64!!!",
	}
	for _, h := range cases {
		r := httptest.NewRequest(http.MethodGet, "/r1/info/refs", nil)
		r.Header.Set("Authorization", h)
		if _, err := parseBasicAuth(r); err == nil {
			t.Fatalf("header %q: expected error", h)
		}
	}
}
