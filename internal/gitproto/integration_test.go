package gitproto

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func runGit(t *testing.T, dir string, env []string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func startTestServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	s := New(root, opts)
	if err := s.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s, root
}

func TestIntegrationCloneAgainstAutoCreate(t *testing.T) {
	requireGit(t)
	s, root := startTestServer(t, Options{AutoCreate: true})

	workDir := t.TempDir()
	out, err := runGit(t, workDir, nil, "clone", "http://"+s.Address()+"/r1", "cloned")
	if err != nil {
		t.Fatalf("git clone failed: %v\n%s", err, out)
	}

	info, err := os.Stat(filepath.Join(root, "r1"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected auto-created bare repo at %s: %v", filepath.Join(root, "r1"), err)
	}
}

func TestIntegrationPushAccepted(t *testing.T) {
	requireGit(t)
	s, root := startTestServer(t, Options{AutoCreate: true})
	s.On("push", func(v any) {
		info := v.(*GitInfo)
		info.Accept()
	})

	workDir := t.TempDir()
	runGit(t, workDir, nil, "init")
	runGit(t, workDir, nil, "config", "user.email", "a@example.com")
	runGit(t, workDir, nil, "config", "user.name", "a")
	os.WriteFile(filepath.Join(workDir, "file.txt"), []byte("hello"), 0o644)
	runGit(t, workDir, nil, "add", "file.txt")
	runGit(t, workDir, nil, "commit", "-m", "initial")
	runGit(t, workDir, nil, "remote", "add", "origin", "http://"+s.Address()+"/r2")

	out, err := runGit(t, workDir, nil, "push", "origin", "HEAD:refs/heads/main")
	if err != nil {
		t.Fatalf("git push failed: %v\n%s", err, out)
	}

	if _, err := os.Stat(filepath.Join(root, "r2", "objects")); err != nil {
		t.Fatalf("expected objects directory after push: %v", err)
	}
}

func TestIntegrationPushRejected(t *testing.T) {
	requireGit(t)
	s, _ := startTestServer(t, Options{AutoCreate: true})
	s.On("push", func(v any) {
		info := v.(*GitInfo)
		info.Reject("nope")
	})

	workDir := t.TempDir()
	runGit(t, workDir, nil, "init")
	runGit(t, workDir, nil, "config", "user.email", "a@example.com")
	runGit(t, workDir, nil, "config", "user.name", "a")
	os.WriteFile(filepath.Join(workDir, "file.txt"), []byte("hello"), 0o644)
	runGit(t, workDir, nil, "add", "file.txt")
	runGit(t, workDir, nil, "commit", "-m", "initial")
	runGit(t, workDir, nil, "remote", "add", "origin", "http://"+s.Address()+"/r3")

	out, err := runGit(t, workDir, nil, "push", "origin", "HEAD:refs/heads/main")
	if err == nil {
		t.Fatalf("expected git push to fail when rejected, output: %s", out)
	}
}

func TestIntegrationAuthFailure(t *testing.T) {
	requireGit(t)
	s, _ := startTestServer(t, Options{
		AutoCreate: true,
		Authenticate: func(_ context.Context, _ OperationType, _, _, _ string) error {
			return errors.New("denied")
		},
	})

	workDir := t.TempDir()
	out, err := runGit(t, workDir, []string{"GIT_TERMINAL_PROMPT=0"}, "clone", "http://"+s.Address()+"/r4", "cloned")
	if err == nil {
		t.Fatalf("expected clone to fail without credentials, output: %s", out)
	}
}

func TestIntegrationHEADRejected(t *testing.T) {
	requireGit(t)
	s, root := startTestServer(t, Options{})
	if err := os.MkdirAll(filepath.Join(root, "r5"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := runGit(t, filepath.Join(root, "r5"), nil, "init", "--bare", "."); err != nil {
		t.Fatalf("git init --bare: %v", err)
	}
	s.On("head", func(v any) {
		info := v.(*GitInfo)
		info.Reject("blocked")
	})

	resp, err := http.Get("http://" + s.Address() + "/r5/HEAD")
	if err != nil {
		t.Fatalf("GET /r5/HEAD: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestIntegrationHEADAccepted(t *testing.T) {
	requireGit(t)
	s, root := startTestServer(t, Options{})
	if err := os.MkdirAll(filepath.Join(root, "r6"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := runGit(t, filepath.Join(root, "r6"), nil, "init", "--bare", "."); err != nil {
		t.Fatalf("git init --bare: %v", err)
	}
	s.On("head", func(v any) {
		info := v.(*GitInfo)
		info.Accept()
	})

	resp, err := http.Get("http://" + s.Address() + "/r6/HEAD")
	if err != nil {
		t.Fatalf("GET /r6/HEAD: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
