package gitproto

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routePattern dispatches the repository name (may contain slashes) and the
// trailing action segment.
var routePattern = regexp.MustCompile(`^/(.+?)/(info/refs|git-(?:upload|receive)-pack|HEAD)$`)

// Authenticate validates a Basic-auth (or custom) credential pair for the
// given operation against the named repository. A nil error means success.
// When username/password are both empty and the request carried no
// Authorization header at all, callers may choose to allow anonymous access.
type Authenticate func(ctx context.Context, op OperationType, repo, username, password string) error

// Options configures a Server.
type Options struct {
	// AutoCreate creates a missing bare repository on demand via
	// `git init --bare` instead of responding 404.
	AutoCreate bool

	// Authenticate is optional; when nil every request is allowed through
	// without consulting credentials.
	Authenticate Authenticate

	// Logger receives structured request/operation logs. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger

	// Metrics, when non-nil, registers Prometheus collectors against it
	// instead of prometheus.DefaultRegisterer. /metrics is served from this
	// same registry when it also implements prometheus.Gatherer.
	Metrics prometheus.Registerer

	// TrustedProxies lists CIDR blocks (or bare IPs) whose X-Forwarded-For
	// header is trusted when resolving the logged client address.
	TrustedProxies []string

	// CORSAllowedOrigins, when non-empty, enables a CORS allowlist; "*"
	// allows any origin.
	CORSAllowedOrigins []string
}

// Server is a smart-HTTP Git server. It owns an HTTP listener, a root
// directory of bare repositories, and an observer registry for
// info/fetch/push/head/tag/error events.
type Server struct {
	root     string
	opts     Options
	logger   *slog.Logger
	events   *eventBroker
	metrics  *httpMetrics
	clientIP clientIPResolver

	mux http.Handler
	srv *http.Server
	ln  net.Listener
}

// New constructs an idle Server rooted at rootDir. Call Listen to start
// accepting connections.
func New(rootDir string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Server{
		root:     rootDir,
		opts:     opts,
		logger:   logger,
		events:   newEventBroker(),
		metrics:  metricsForRegisterer(reg),
		clientIP: newClientIPResolver(opts.TrustedProxies),
	}

	var handler http.Handler = http.HandlerFunc(s.route)
	handler = corsMiddleware(opts.CORSAllowedOrigins, handler)
	handler = s.instrument(handler)

	// Dispatch by hand rather than through http.ServeMux, whose path
	// cleaning would answer e.g. /../x/info/refs with a 301 redirect before
	// route() could reject the ".." repository name with 404.
	metricsHandler := promhttp.HandlerFor(gathererForRegisterer(reg), promhttp.HandlerOpts{EnableOpenMetrics: true})
	s.mux = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	return s
}

// On registers fn as a listener for event (one of info, fetch, push, head,
// tag, error). fn is invoked synchronously and must not block.
func (s *Server) On(event string, fn func(any)) {
	s.events.On(event, fn)
}

// Listen binds the HTTP listener on port (0 for an OS-assigned port) and
// starts serving in the background. It returns once the listener is bound.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", addrForPort(port))
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.mux}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.emitError(err)
		}
	}()
	return nil
}

// Address returns the bound listener address, including port. Empty if the
// server is not currently listening.
func (s *Server) Address() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting new connections and drains in-flight requests.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		err := errors.New("server was never started")
		s.emitError(err)
		return err
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) emitError(err error) {
	if s.events.listenerCount("error") == 0 {
		s.logger.Warn("unhandled server error", "error", err)
		return
	}
	s.events.emit("error", err)
}

func addrForPort(port int) string {
	if port <= 0 {
		return ":0"
	}
	return ":" + strconv.Itoa(port)
}

// route dispatches a matched request to the appropriate handler, or responds
// 404 when the path does not match the smart-HTTP route grammar.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	m := routePattern.FindStringSubmatch(r.URL.Path)
	if m == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	repoName, action := m[1], m[2]
	if info := routeInfoFromContext(r.Context()); info != nil {
		info.repo = repoName
	}

	repoPath, err := resolveRepoPath(s.root, repoName)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	switch action {
	case "info/refs":
		if r.Method != http.MethodGet {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if service := r.URL.Query().Get("service"); service != "" {
			if info := routeInfoFromContext(r.Context()); info != nil {
				info.service = opFromServiceName(service)
			}
		}
		s.handleInfoRefs(w, r, repoName, repoPath)
	case "HEAD":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if info := routeInfoFromContext(r.Context()); info != nil {
			info.service = "HEAD"
		}
		s.handleHEAD(w, r, repoName, repoPath)
	case "git-upload-pack":
		if r.Method != http.MethodPost {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if info := routeInfoFromContext(r.Context()); info != nil {
			info.service = "upload-pack"
		}
		s.handleRPC(w, r, "upload-pack", repoName, repoPath)
	case "git-receive-pack":
		if r.Method != http.MethodPost {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		if info := routeInfoFromContext(r.Context()); info != nil {
			info.service = "receive-pack"
		}
		s.handleRPC(w, r, "receive-pack", repoName, repoPath)
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}

// opFromServiceName strips the "git-" prefix a service query parameter
// carries (e.g. "git-upload-pack") down to the bare RPC name used in logs.
func opFromServiceName(service string) string {
	const prefix = "git-"
	if len(service) > len(prefix) && service[:len(prefix)] == prefix {
		return service[len(prefix):]
	}
	return service
}

func (s *Server) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request, op OperationType, repo string) bool {
	if s.opts.Authenticate == nil {
		return true
	}
	creds, err := parseBasicAuth(r)
	if err != nil {
		setWWWAuthenticate(w)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return false
	}
	if err := s.opts.Authenticate(ctx, op, repo, creds.username, creds.password); err != nil {
		setWWWAuthenticate(w)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return false
	}
	return true
}

// ensureRepo checks for repository existence, optionally auto-creating it.
// Returns false (after writing a response) if the repo is unusable.
func (s *Server) ensureRepo(w http.ResponseWriter, r *http.Request, repoPath string, autoCreate bool) bool {
	if repoExists(repoPath) {
		return true
	}
	if !autoCreate {
		http.Error(w, "Repository not found", http.StatusNotFound)
		return false
	}
	if err := createBareRepo(r.Context(), repoPath); err != nil {
		s.logger.Error("auto-create repository failed", "path", repoPath, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return false
	}
	return true
}

func opFromService(serviceName string) OperationType {
	if serviceName == "receive-pack" {
		return Push
	}
	return Fetch
}

func setNoCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, max-age=0, must-revalidate")
	w.Header().Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
	w.Header().Set("Pragma", "no-cache")
}
