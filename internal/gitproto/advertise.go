package gitproto

import (
	"fmt"
	"net/http"
)

func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request, repoName, repoPath string) {
	service := r.URL.Query().Get("service")
	if service == "" {
		http.Error(w, "service parameter required", http.StatusBadRequest)
		return
	}
	if service != "git-upload-pack" && service != "git-receive-pack" {
		http.Error(w, "Invalid service", http.StatusBadRequest)
		return
	}
	serviceName := service[len("git-"):]
	op := opFromService(serviceName)

	if !s.authenticate(r.Context(), w, r, op, repoName) {
		return
	}
	if !s.ensureRepo(w, r, repoPath, s.opts.AutoCreate) {
		return
	}

	gate := newAcceptanceGate()
	info := &GitInfo{
		Repo:   repoName,
		Type:   op,
		Accept: gate.Accept,
		Reject: gate.Reject,
	}

	hasListener := s.events.listenerCount("info") > 0 || s.events.listenerCount(string(op)) > 0
	s.events.emit("info", info)
	s.events.emit(string(op), info)
	state, rejectMsg := gate.resolve(hasListener)

	switch state {
	case gateRejected:
		s.metrics.recordOperation(op, "rejected")
		http.Error(w, rejectMsg, http.StatusForbidden)
		return
	case gateAccepted:
		s.metrics.recordOperation(op, "accepted")
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-git-%s-advertisement", serviceName))
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)

	w.Write(pktLine(fmt.Sprintf("# service=git-%s\n", serviceName)))
	w.Write(pktFlush())

	var extraEnv []string
	if gp := r.Header.Get("Git-Protocol"); gp != "" {
		extraEnv = append(extraEnv, "GIT_PROTOCOL="+gp)
	}

	ctx, span := startSubprocessSpan(r.Context(), serviceName+" --advertise-refs", repoName)
	err := advertiseRefs(ctx, serviceName, repoPath, w, s.logger, extraEnv)
	endSubprocessSpan(span, err)
	if err != nil {
		s.logger.Error("advertise-refs subprocess failed", "repo", repoName, "service", serviceName, "error", err)
		s.metrics.recordOperation(op, "error")
		s.emitError(err)
	}
}
