package gitproto

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	kgzip "github.com/klauspost/compress/gzip"
)

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, serviceName, repoName, repoPath string) {
	op := opFromService(serviceName)

	if !s.authenticate(r.Context(), w, r, op, repoName) {
		return
	}
	if !repoExists(repoPath) {
		http.Error(w, "Repository not found", http.StatusNotFound)
		return
	}

	body, err := decodedBody(r)
	if err != nil {
		http.Error(w, "invalid request encoding", http.StatusBadRequest)
		return
	}

	// Immediately buffer the request body into a pipe so no protocol bytes
	// are lost while the acceptance gate is still open. The pipe's writer is
	// fed from a background goroutine right away; the reader is only handed
	// to the subprocess once accepted.
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := io.Copy(pw, body)
		pw.CloseWithError(copyErr)
	}()

	gate := newAcceptanceGate()
	info := &GitInfo{
		Repo:   repoName,
		Type:   op,
		Accept: gate.Accept,
		Reject: gate.Reject,
	}

	hasListener := s.events.listenerCount(string(op)) > 0
	s.events.emit(string(op), info)
	state, rejectMsg := gate.resolve(hasListener)

	if state == gateRejected {
		s.metrics.recordOperation(op, "rejected")
		http.Error(w, rejectMsg, http.StatusInternalServerError)
		pr.CloseWithError(fmt.Errorf("operation rejected: %s", rejectMsg))
		return
	}
	s.metrics.recordOperation(op, "accepted")

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-git-%s-result", serviceName))
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)

	var stdin io.Reader = pr
	if op == Push {
		stdin = newTagSniffer(pr, repoName, func(t TagInfo) {
			if s.events.listenerCount("tag") > 0 {
				s.events.emit("tag", &t)
			}
		})
	}

	var extraEnv []string
	if gp := r.Header.Get("Git-Protocol"); gp != "" {
		extraEnv = append(extraEnv, "GIT_PROTOCOL="+gp)
	}

	ctx, span := startSubprocessSpan(r.Context(), serviceName, repoName)
	err = statelessRPCPipes(ctx, serviceName, repoPath, stdin, w, s.logger, extraEnv)
	endSubprocessSpan(span, err)

	if err != nil {
		s.logger.Error("rpc subprocess failed", "repo", repoName, "service", serviceName, "error", err)
		s.metrics.recordOperation(op, "error")
		s.emitError(err)
	}
}

// decodedBody transparently decompresses a gzip-encoded request body using
// klauspost/compress; falls back to the standard library decoder only if
// klauspost's reader construction fails on a technically-valid-but-unusual
// header (defense in depth, not expected in practice).
func decodedBody(r *http.Request) (io.Reader, error) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, nil
	}
	gz, err := kgzip.NewReader(r.Body)
	if err == nil {
		return gz, nil
	}
	return gzip.NewReader(r.Body)
}
