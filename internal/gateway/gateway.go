// ABOUTME: Gateway orchestrator that wires the store, program and event sinks to the HTTP server
// ABOUTME: Manages server lifecycle, graceful shutdown and health endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/pulsar-gateway/internal/auth"
	"github.com/2389/pulsar-gateway/internal/config"
	"github.com/2389/pulsar-gateway/internal/events"
	"github.com/2389/pulsar-gateway/internal/keys"
	"github.com/2389/pulsar-gateway/internal/program"
	"github.com/2389/pulsar-gateway/internal/ratelimit"
	"github.com/2389/pulsar-gateway/internal/store"
	"github.com/2389/pulsar-gateway/internal/token"
)

// Gateway serves the payment program over HTTP.
type Gateway struct {
	config      *config.Config
	store       store.Store
	program     *program.Program
	ledger      *token.Ledger
	verifier    *auth.Verifier
	broadcaster *events.Broadcaster

	// nil limiters allow everything
	clientLimiter   *ratelimit.Limiter // keyed by remote address
	identityLimiter *ratelimit.Limiter // keyed by verified signer

	redis      *redis.Client // nil unless events.redis_addr is set
	httpServer *http.Server
	logger     *slog.Logger

	// treasury receives payments that name no destination
	treasury keys.PublicKey
}

// initStore opens the store selected by database.driver.
func initStore(cfg *config.Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err = store.NewPostgresStore(cfg.Database.DSN)
	default:
		s, err = store.NewSQLiteStore(cfg.Database.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New opens the configured store and builds a Gateway around it.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Events.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Events.RedisAddr,
			Password:     cfg.Events.RedisPassword,
			DB:           cfg.Events.RedisDB,
			PoolSize:     20,
			MinIdleConns: 5,
		})
	}

	gw, err := newGateway(cfg, s, rdb, logger)
	if err != nil {
		_ = s.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return gw, nil
}

// newGateway wires components around an open store. rdb may be nil.
func newGateway(cfg *config.Config, s store.Store, rdb *redis.Client, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broadcaster := events.NewBroadcaster(logger)
	notifiers := []events.Notifier{broadcaster}
	if rdb != nil {
		notifiers = append(notifiers, events.NewRedisStream(rdb, cfg.Events.RedisStream, cfg.Events.MaxLen, logger))
		logger.Info("publishing events to redis", "addr", cfg.Events.RedisAddr, "stream", cfg.Events.RedisStream)
	}

	ledger := token.NewLedger(logger)
	prog, err := program.New(s, program.Options{
		ProgramID: cfg.Program.ID,
		Transfers: ledger,
		Notifier:  events.NewMulti(logger, notifiers...),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating program: %w", err)
	}

	treasury := cfg.Program.Treasury
	if treasury.IsZero() && !cfg.Program.Mint.IsZero() {
		treasury, err = token.AssociatedAddress(prog.Address(), cfg.Program.Mint)
		if err != nil {
			return nil, fmt.Errorf("deriving treasury: %w", err)
		}
	}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		program:     prog,
		ledger:      ledger,
		verifier:    auth.NewVerifier(cfg.Auth.MaxAge, cfg.Auth.ReplayCacheSize),
		broadcaster: broadcaster,

		clientLimiter:   ratelimit.New(cfg.Limits.ClientRPS, cfg.Limits.ClientBurst),
		identityLimiter: ratelimit.New(cfg.Limits.IdentityRPS, cfg.Limits.IdentityBurst),

		redis:    rdb,
		logger:   logger.With("component", "gateway"),
		treasury: treasury,
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway configured",
		"program_id", prog.ProgramID(),
		"address", prog.Address(),
		"treasury", treasury,
		"admin_api", cfg.Program.AdminAPI,
		"client_rps", cfg.Limits.ClientRPS,
		"identity_rps", cfg.Limits.IdentityRPS)
	return gw, nil
}

// routes builds the HTTP handler. Every POST is limited per client address
// before its signatures are checked.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	post := func(pattern string, h http.HandlerFunc) {
		mux.Handle("POST "+pattern, g.limitClients(h))
	}

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("GET /api/gateway", g.handleGetGateway)
	post("/api/gateway/initialize", g.handleInitialize)
	post("/api/gateway/fee", g.handleUpdateFee)
	mux.HandleFunc("GET /api/payments/quote", g.handleQuote)
	post("/api/payments", g.handlePayment)
	post("/api/payments/verify", g.handleVerifyPayment)
	mux.HandleFunc("GET /api/events", g.handleListEvents)
	mux.HandleFunc("GET /api/events/stream", g.handleEventStream)

	if g.config.Program.AdminAPI {
		post("/api/accounts", g.handleOpenAccount)
		mux.HandleFunc("GET /api/accounts/{address}", g.handleGetAccount)
		post("/api/accounts/{address}/mint", g.handleMint)
		post("/api/accounts/{address}/freeze", g.handleFreeze(true))
		post("/api/accounts/{address}/thaw", g.handleFreeze(false))
	}

	return mux
}

// limitClients rejects requests from a remote address over its rate.
func (g *Gateway) limitClients(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if addr := ratelimit.ClientAddr(r); !g.clientLimiter.Allow(addr) {
			g.logger.Warn("client rate limited", "addr", addr, "path", r.URL.Path)
			g.sendError(w, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Program returns the underlying program.
func (g *Gateway) Program() *program.Program {
	return g.program
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	// Closing subscriber channels lets SSE handlers return before the server waits on them.
	g.broadcaster.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	g.verifier.Close()
	g.clientLimiter.Close()
	g.identityLimiter.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the gateway record exists and verifies.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	gw, err := g.program.Gateway(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (fee %s)", store.FormatAmount(gw.Fee))
}
