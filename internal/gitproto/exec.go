package gitproto

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// gitSubprocessEnv builds a minimal environment for git subprocesses: PATH
// and HOME from the server process with the system-wide git config disabled
// (the user's global config under HOME is still read), plus any extra vars
// the caller wants forwarded (e.g. GIT_PROTOCOL for protocol v2 negotiation).
func gitSubprocessEnv(extra []string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_CONFIG_NOSYSTEM=1",
		"HOME=" + os.Getenv("HOME"),
	}
	return append(env, extra...)
}

// advertiseRefs spawns `git <service> --stateless-rpc --advertise-refs <repoPath>`
// and copies its stdout to w. Returns once the subprocess has exited.
func advertiseRefs(ctx context.Context, service, repoPath string, w io.Writer, logger *slog.Logger, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, "git", service, "--stateless-rpc", "--advertise-refs", repoPath)
	cmd.Env = gitSubprocessEnv(extraEnv)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start git %s: %w", service, err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(w, stdout)
		return err
	})
	g.Go(func() error {
		logStderr(logger, service, repoPath, stderr)
		return nil
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()
	if copyErr != nil {
		return copyErr
	}
	return waitErr
}

// statelessRPCPipes spawns `git <service> --stateless-rpc <repoPath>` wired to
// the given stdin/stdout/stderr. All three data movements run concurrently
// in an errgroup, which waits for all of them and reports the first copy
// error; a failed copy does not by itself stop the other two. ctx
// cancellation (e.g. client disconnect) kills the subprocess, which closes
// its pipes and unwinds the remaining copies.
func statelessRPCPipes(ctx context.Context, service, repoPath string, stdin io.Reader, stdout io.Writer, logger *slog.Logger, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, "git", service, "--stateless-rpc", repoPath)
	cmd.Env = gitSubprocessEnv(extraEnv)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start git %s: %w", service, err)
	}

	// Kill the subprocess if the request context is canceled (client
	// disconnect) before the pipe copies below finish on their own.
	killerDone := make(chan struct{})
	defer close(killerDone)
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		case <-killerDone:
		}
	}()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stdinPipe.Close()
		_, err := io.Copy(stdinPipe, stdin)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stdout, stdoutPipe)
		return err
	})
	g.Go(func() error {
		logStderr(logger, service, repoPath, stderrPipe)
		return nil
	})

	copyErr := g.Wait()
	waitErr := cmd.Wait()
	if copyErr != nil {
		return copyErr
	}
	return waitErr
}

func logStderr(logger *slog.Logger, service, repoPath string, r io.Reader) {
	if logger == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("git stderr", "service", service, "repo", repoPath, "line", scanner.Text())
	}
}
