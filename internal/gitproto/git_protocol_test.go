package gitproto

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFakeGitBinary writes an executable shell script named "git" into a
// fresh directory and prepends that directory onto PATH for the duration of
// the test, so exec.LookPath("git") resolves to it instead of the real git.
// The script writes the GIT_PROTOCOL value it receives to captureFile and
// exits without producing any stdout, standing in for the real subprocess so
// tests can assert on env forwarding without depending on a git installation
// or on parsing real pkt-line wire bytes.
func writeFakeGitBinary(t *testing.T) (captureFile string) {
	t.Helper()
	binDir := t.TempDir()
	captureFile = filepath.Join(t.TempDir(), "capture")

	script := "#!/bin/sh\nprintf '%s' \"$GIT_PROTOCOL\" > " + captureFile + "\nexit 0\n"
	scriptPath := filepath.Join(binDir, "git")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake git script: %v", err)
	}

	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return captureFile
}

func readCaptureFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read capture file: %v", err)
	}
	return string(data)
}

func TestAdvertiseRefsForwardsGitProtocolEnv(t *testing.T) {
	capture := writeFakeGitBinary(t)

	var buf bytes.Buffer
	err := advertiseRefs(context.Background(), "upload-pack", "unused", &buf, nil, []string{"GIT_PROTOCOL=version=2"})
	if err != nil {
		t.Fatalf("advertiseRefs: %v", err)
	}

	if got := readCaptureFile(t, capture); got != "version=2" {
		t.Fatalf("GIT_PROTOCOL forwarded to advertise-refs subprocess = %q, want %q", got, "version=2")
	}
}

func TestStatelessRPCPipesForwardsGitProtocolEnv(t *testing.T) {
	capture := writeFakeGitBinary(t)

	var buf bytes.Buffer
	err := statelessRPCPipes(context.Background(), "upload-pack", "unused", strings.NewReader(""), &buf, nil, []string{"GIT_PROTOCOL=version=2"})
	if err != nil {
		t.Fatalf("statelessRPCPipes: %v", err)
	}

	if got := readCaptureFile(t, capture); got != "version=2" {
		t.Fatalf("GIT_PROTOCOL forwarded to stateless-rpc subprocess = %q, want %q", got, "version=2")
	}
}

func TestHandleInfoRefsForwardsGitProtocolHeader(t *testing.T) {
	capture := writeFakeGitBinary(t)

	s, root := newTestServer(t, Options{AutoCreate: false})
	if err := os.MkdirAll(filepath.Join(root, "r1"), 0o755); err != nil {
		t.Fatalf("mkdir repo dir: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/r1/info/refs?service=git-upload-pack", nil)
	req.Header.Set("Git-Protocol", "version=2")
	rec := httptest.NewRecorder()

	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got := readCaptureFile(t, capture); got != "version=2" {
		t.Fatalf("GIT_PROTOCOL forwarded through handleInfoRefs = %q, want %q", got, "version=2")
	}
}

func TestHandleRPCForwardsGitProtocolHeader(t *testing.T) {
	capture := writeFakeGitBinary(t)

	s, root := newTestServer(t, Options{AutoCreate: false})
	if err := os.MkdirAll(filepath.Join(root, "r1"), 0o755); err != nil {
		t.Fatalf("mkdir repo dir: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/r1/git-upload-pack", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-git-upload-pack-request")
	req.Header.Set("Git-Protocol", "version=2")
	rec := httptest.NewRecorder()

	s.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if got := readCaptureFile(t, capture); got != "version=2" {
		t.Fatalf("GIT_PROTOCOL forwarded through handleRPC = %q, want %q", got, "version=2")
	}
}
