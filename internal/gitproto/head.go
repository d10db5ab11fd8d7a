package gitproto

import "net/http"

func (s *Server) handleHEAD(w http.ResponseWriter, r *http.Request, repoName, repoPath string) {
	if !s.ensureRepo(w, r, repoPath, s.opts.AutoCreate) {
		return
	}

	gate := newAcceptanceGate()
	info := &GitInfo{
		Repo:   repoName,
		Accept: gate.Accept,
		Reject: gate.Reject,
	}

	hasListener := s.events.listenerCount("head") > 0
	s.events.emit("head", info)
	state, rejectMsg := gate.resolve(hasListener)

	if state == gateRejected {
		http.Error(w, rejectMsg, http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
}
