// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kmw384/paygate/internal/claim"
	"github.com/kmw384/paygate/internal/config"
	"github.com/kmw384/paygate/internal/fetch"
	"github.com/kmw384/paygate/internal/gate"
	"github.com/kmw384/paygate/internal/health"
	"github.com/kmw384/paygate/internal/logging"
	"github.com/kmw384/paygate/internal/metrics"
	"github.com/kmw384/paygate/internal/ratelimit"
	"github.com/kmw384/paygate/internal/replay"
	"github.com/kmw384/paygate/internal/security"
	"github.com/kmw384/paygate/internal/traces"
	"github.com/kmw384/paygate/internal/validation"
	"github.com/kmw384/paygate/internal/verify"
)

// pinger is implemented by verifiers that can probe their RPC endpoint.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	logger      *slog.Logger
	router      *gin.Engine
	httpSrv     *http.Server
	rateLimiter *ratelimit.Limiter
	fetcher     *fetch.Client
	registry    *verify.Registry
	replayStore replay.Store
	checks      *health.Registry
	priceUSD    decimal.Decimal

	overrides    map[claim.Network]verify.Verifier
	closeBase    func()
	stopTracing  func(context.Context) error
	cancelRunCtx context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVerifier injects a verifier for a network (for testing)
func WithVerifier(network claim.Network, v verify.Verifier) Option {
	return func(s *Server) {
		s.overrides[network] = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		overrides: make(map[claim.Network]verify.Verifier),
		checks:    health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	price, err := decimal.NewFromString(cfg.PriceUSD)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("invalid PRICE_USD %q", cfg.PriceUSD)
	}
	s.priceUSD = price

	if err := s.setupVerifiers(); err != nil {
		return nil, err
	}

	s.replayStore = replay.NewMemoryStore()
	s.fetcher = fetch.New(fetch.Config{
		Timeout:    cfg.FetchTimeout,
		MaxRetries: cfg.FetchMaxRetries,
		Backoff:    cfg.FetchBackoff,
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupVerifiers registers a chain verifier for every network that has
// a configured recipient wallet.
func (s *Server) setupVerifiers() error {
	s.registry = verify.NewRegistry()

	if v, ok := s.overrides[claim.NetworkSolana]; ok {
		s.registry.Register(claim.NetworkSolana, v)
	} else if s.cfg.RecipientWalletSolana != "" {
		sol, err := verify.NewSolana(verify.SolanaConfig{
			RPCURL:    s.cfg.SolanaRPCURL,
			USDCMint:  s.cfg.USDCMint,
			Recipient: s.cfg.RecipientWalletSolana,
			PriceUSD:  s.priceUSD,
		})
		if err != nil {
			return fmt.Errorf("solana verifier: %w", err)
		}
		s.registry.Register(claim.NetworkSolana, sol)
		s.logger.Info("solana payments enabled",
			"rpc", s.cfg.SolanaRPCURL,
			"recipient", s.cfg.RecipientWalletSolana,
		)
	}

	if v, ok := s.overrides[claim.NetworkBase]; ok {
		s.registry.Register(claim.NetworkBase, v)
	} else if s.cfg.RecipientWalletBase != "" {
		base, err := verify.NewBase(verify.BaseConfig{
			RPCURL:       s.cfg.BaseRPCURL,
			USDCContract: s.cfg.USDCContract,
			Recipient:    s.cfg.RecipientWalletBase,
			PriceUSD:     s.priceUSD,
		})
		if err != nil {
			return fmt.Errorf("base verifier: %w", err)
		}
		s.registry.Register(claim.NetworkBase, base)
		s.closeBase = base.Close
		s.logger.Info("base payments enabled",
			"rpc", s.cfg.BaseRPCURL,
			"recipient", s.cfg.RecipientWalletBase,
		)
	}

	if len(s.registry.Networks()) == 0 {
		return errors.New("no payment network configured")
	}

	// RPC reachability feeds /health.
	for _, n := range []claim.Network{claim.NetworkSolana, claim.NetworkBase} {
		v, ok := s.registry.For(n)
		if !ok {
			continue
		}
		p, ok := v.(pinger)
		if !ok {
			continue
		}
		name := string(n) + "_rpc"
		s.checks.Register(name, func(ctx context.Context) health.Status {
			if err := p.Ping(ctx); err != nil {
				return health.Status{Name: name, Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: name, Healthy: true}
		})
	}

	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins - the gate itself is the access control)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting runs before any other work.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		Limit:           s.cfg.RateLimit,
		Window:          s.cfg.RateWindow,
		CleanupInterval: s.cfg.RateWindow,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// Paid routes
	wallets := make(map[claim.Network]string)
	if s.cfg.RecipientWalletSolana != "" {
		wallets[claim.NetworkSolana] = s.cfg.RecipientWalletSolana
	}
	if s.cfg.RecipientWalletBase != "" {
		wallets[claim.NetworkBase] = s.cfg.RecipientWalletBase
	}

	v1 := s.router.Group("/v1")
	v1.Use(gate.Middleware(gate.Config{
		PriceUSD:      s.priceUSD,
		Wallets:       wallets,
		Registry:      s.registry,
		Replay:        s.replayStore,
		VerifyTimeout: s.cfg.VerifyTimeout,
		Endpoint:      "/v1/fetch",
		Description:   "fetch a public URL through the gate",
	}))
	{
		v1.GET("/fetch", s.fetchHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// fetchHandler proxies the requested URL. Payment is already settled by
// the gate middleware by the time this runs.
func (s *Server) fetchHandler(c *gin.Context) {
	ctx := c.Request.Context()

	target := c.Query("url")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "missing url query parameter",
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "fetch.upstream", traces.TargetHost(target))
	resp, err := s.fetcher.Fetch(ctx, target, fetch.Options{})
	span.End()

	if err != nil {
		if fetch.IsBlocked(err) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "target host is not allowed",
			})
			return
		}
		logging.L(ctx).Warn("upstream fetch failed",
			"url", target,
			"error", err,
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "upstream fetch failed",
		})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "paygate",
		"description": "pay-per-request URL fetching",
		"version":     "0.1.0",
		"currency":    "USDC",
		"price":       s.priceUSD.String(),
		"networks":    s.registry.Networks(),
		"endpoint":    "/v1/fetch",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"networks", s.registry.Networks(),
			"price_usd", s.priceUSD.String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.closeBase != nil {
		s.closeBase()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
