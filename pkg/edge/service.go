package edge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cogforge/coc/core"
	"github.com/cogforge/coc/pkg/breaker"
	"github.com/cogforge/coc/pkg/discoverytoken"
	"github.com/cogforge/coc/pkg/ratelimit"
	"github.com/cogforge/coc/pkg/telemetry"
)

// Upstream dispatches an authenticated, authorized request that isn't a
// plugin tool invocation, proxying it to a backend and reporting whether
// the call should count as a breaker success.
type Upstream interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request) (ok bool)
}

// PluginDispatcher recognizes and serves plugin-tool-backed paths.
// Plugin adapters themselves are out of scope here; any implementation
// (including a no-op one that always reports false) satisfies this.
type PluginDispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request) (handled bool)
}

type noopPluginDispatcher struct{}

func (noopPluginDispatcher) Dispatch(w http.ResponseWriter, r *http.Request) bool { return false }

// Config configures a Service.
type Config struct {
	Addr            string
	JWTSecret       []byte
	ShutdownTimeout time.Duration
	RateLimit       ratelimit.Config
	BreakerConfig   func(peerID string) *breaker.CircuitBreakerConfig
	// TLSConfig, when set, makes Run terminate TLS using it (typically a
	// tlsmanager.Manager's hot-swappable resolver) instead of serving
	// plaintext.
	TLSConfig *tls.Config
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8443",
		JWTSecret:       []byte("change-me"),
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       ratelimit.DefaultConfig(),
	}
}

// Service is the edge front door: auth, rate limiting, circuit breaking,
// and dispatch, assembled the way the teacher's core.BaseAgent assembles
// its mux + middleware stack + http.Server, generalized to this
// multi-stage pipeline.
type Service struct {
	cfg        Config
	logger     core.ComponentAwareLogger
	started    time.Time
	limiter    *ratelimit.Limiter
	tokens     *discoverytoken.Manager
	jwt        *JWTValidator
	peers      *PeerRegistry
	breakers   *breaker.Registry
	upstream   Upstream
	plugins    PluginDispatcher
	shutdown   *ShutdownCoordinator
	server     *http.Server
}

// New assembles a Service. tokens and upstream must be non-nil; plugins
// may be nil to use a dispatcher that never claims a path.
func New(cfg Config, tokens *discoverytoken.Manager, upstream Upstream, plugins PluginDispatcher, logger core.ComponentAwareLogger) *Service {
	if plugins == nil {
		plugins = noopPluginDispatcher{}
	}
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		started:  time.Now(),
		limiter:  ratelimit.New(cfg.RateLimit, nil, logger),
		tokens:   tokens,
		jwt:      NewJWTValidator(cfg.JWTSecret),
		peers:    NewPeerRegistry(),
		breakers: breaker.NewRegistry(cfg.BreakerConfig),
		upstream: upstream,
		plugins:  plugins,
		shutdown: NewShutdownCoordinator(),
	}
	return s
}

func (s *Service) breakerFor(peerID string) *breaker.CircuitBreaker {
	return s.breakers.For(peerID)
}

// Handler builds the root http.Handler: correlation + otel instrumentation
// wrapping a mux with explicit /health, /metrics, /api/peers and
// /api/register routes; every other path goes through the request
// pipeline in handleDispatch.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	mux.HandleFunc("/api/peers", s.handlePeers)
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/", s.handleDispatch)

	var h http.Handler = mux
	h = telemetry.CorrelationMiddleware(h)
	h = otelhttp.NewHandler(h, "edge")
	return h
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime_s": uint64(time.Since(s.started).Seconds()),
	})
}

func (s *Service) handlePeers(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "api.peers") {
		return
	}
	if !s.validateDiscoveryToken(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.peers.List())
}

type registerRequest struct {
	PeerID       string `json:"peer_id"`
	Addr         string `json:"addr"`
	PublicKeyB64 string `json:"public_key_b64"`
}

type registerResponse struct {
	Accepted          bool   `json:"accepted"`
	EpochPublicKeyB64 string `json:"epoch_public_key_b64"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "api.register") {
		return
	}
	if !s.validateDiscoveryToken(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, registerResponse{})
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerID == "" {
		writeJSON(w, http.StatusBadRequest, registerResponse{})
		return
	}
	s.peers.Register(req.PeerID, req.Addr, req.PublicKeyB64)
	writeJSON(w, http.StatusOK, registerResponse{Accepted: true, EpochPublicKeyB64: s.tokens.PublicKey()})
}

// validateDiscoveryToken enforces the x-discovery-token header for
// discovery-path endpoints, writing 401 on any failure.
func (s *Service) validateDiscoveryToken(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("x-discovery-token")
	if header == "" {
		writeJSON(w, http.StatusUnauthorized, failureBody("missing discovery token"))
		return false
	}
	var enc discoverytoken.EncryptedToken
	if err := json.Unmarshal([]byte(header), &enc); err != nil {
		writeJSON(w, http.StatusUnauthorized, failureBody("malformed discovery token"))
		return false
	}
	if _, err := s.tokens.Decrypt(enc); err != nil {
		writeJSON(w, http.StatusUnauthorized, failureBody("invalid discovery token"))
		return false
	}
	return true
}

func failureBody(reason string) map[string]string {
	return map[string]string{"error": reason}
}

func (s *Service) checkRateLimit(w http.ResponseWriter, r *http.Request, operation string) bool {
	if s.cfg.RateLimit.Bypassed(r.Header.Get(s.cfg.RateLimit.BypassHeader)) {
		return true
	}
	key := ratelimit.Key(operation, clientIP(r))
	allowed, retryAfter := s.limiter.Check(r.Context(), key, 1)
	if !allowed {
		w.Header().Set("Retry-After", retryAfter.String())
		writeJSON(w, http.StatusTooManyRequests, failureBody("rate limit exceeded"))
		return false
	}
	return true
}

// handleDispatch implements the full pipeline for every path not covered
// by an explicit route: rate limit, JWT auth, role authorization, breaker
// consult, dispatch (plugin or upstream), record outcome.
func (s *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if !s.checkRateLimit(w, r, "dispatch") {
		return
	}

	var claims *Claims
	if requiresJWT(r.URL.Path) {
		token := extractBearer(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, failureBody("missing bearer token"))
			return
		}
		c, err := s.jwt.Validate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, failureBody("invalid bearer token"))
			return
		}
		claims = c
		if !claims.Satisfies(requiredRole(r)) {
			writeJSON(w, http.StatusForbidden, failureBody("role insufficient"))
			return
		}
		s.peers.Touch(claims.PeerID)
		r = r.WithContext(telemetry.WithPeerIdentity(r.Context(), claims.PeerID, string(claims.Role)))
	}

	peerID := "anonymous"
	if claims != nil {
		peerID = claims.PeerID
	}
	cb := s.breakerFor(peerID)
	if cb.GetState() == "open" {
		writeJSON(w, http.StatusServiceUnavailable, failureBody("circuit open"))
		return
	}

	done := s.shutdown.Enter()
	defer done()

	err := cb.Execute(r.Context(), func() error {
		if s.plugins.Dispatch(w, r) {
			return nil
		}
		if s.upstream != nil && s.upstream.ServeHTTP(w, r) {
			return nil
		}
		w.WriteHeader(http.StatusBadGateway)
		return core.ErrRequestFailed
	})
	if err != nil && s.logger != nil {
		fields := telemetry.EnrichLogFields(r.Context(), map[string]interface{}{"error": err.Error()})
		fields["peer_id"] = peerID
		s.logger.Warn("dispatch failed", fields)
	}
}

// requiredRole maps a path to a minimum role. Write-ish verbs require
// write; everything else requires read. Real tool-specific role mapping
// belongs to the plugin layer, out of scope here.
func requiredRole(r *http.Request) Role {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return RoleWrite
	default:
		return RoleRead
	}
}

// Run starts the HTTP server and blocks until ctx is canceled, then
// drains in-flight requests up to ShutdownTimeout before forcing close.
func (s *Service) Run(ctx context.Context) error {
	s.server = &http.Server{Addr: s.cfg.Addr, Handler: s.Handler(), TLSConfig: s.cfg.TLSConfig}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLSConfig != nil {
			err = s.server.ListenAndServeTLS("", "")
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.shutdown.Broadcast()
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if !s.shutdown.Drain(drainCtx, s.cfg.ShutdownTimeout) {
		if s.logger != nil {
			s.logger.Warn("forcing connection close after drain timeout", nil)
		}
		return s.server.Close()
	}
	return s.server.Shutdown(drainCtx)
}
