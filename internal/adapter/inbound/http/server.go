package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/ctxkey"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/journal"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/port/outbound"
	"github.com/Tetsuuya/tasty-kitchen-3/internal/telemetry"
)

// DefaultAddr is loopback only; the endpoints expose the signed-in identity.
const DefaultAddr = "127.0.0.1:7070"

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// divergentReader is implemented by journals that can list operations
// interrupted between phases.
type divergentReader interface {
	Divergent(ctx context.Context, identity string) ([]journal.Entry, error)
}

// Option configures a StatusServer.
type Option func(*StatusServer)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *StatusServer) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithJournal exposes j on /v1/journal and checks it on /health.
func WithJournal(j outbound.Journal) Option {
	return func(s *StatusServer) {
		s.journal = j
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *StatusServer) {
		s.gatherer = g
	}
}

// WithMetrics records status server requests on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *StatusServer) {
		s.metrics = m
	}
}

// WithVersion is reported by /health.
func WithVersion(v string) Option {
	return func(s *StatusServer) {
		s.version = v
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *StatusServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// StatusServer is the read-only HTTP view of a running cart session.
type StatusServer struct {
	cart     CartViewer
	journal  outbound.Journal
	gatherer prometheus.Gatherer
	metrics  *telemetry.Metrics
	version  string
	addr     string
	logger   *slog.Logger

	server *http.Server
}

// NewStatusServer creates a server for cart.
func NewStatusServer(cart CartViewer, opts ...Option) *StatusServer {
	s := &StatusServer{
		cart:   cart,
		addr:   DefaultAddr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router.
func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware(s.metrics))

	r.Method(http.MethodGet, "/health", NewHealthChecker(s.cart, s.journal, s.version).Handler())
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/cart", s.getCart)
		r.Get("/journal", s.getJournal)
	})
	return r
}

// requestLogger stores a logger tagged with the request ID in the context.
func (s *StatusServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxkey.LoggerKey{}, l)))
	})
}

func (s *StatusServer) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func (s *StatusServer) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cart.View())
}

func (s *StatusServer) getJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}
	identity := s.cart.View().Cart.Identity()
	q := r.URL.Query()

	if divergent, _ := strconv.ParseBool(q.Get("divergent")); divergent {
		dr, ok := s.journal.(divergentReader)
		if !ok {
			writeError(w, http.StatusNotImplemented, "journal cannot list divergent operations")
			return
		}
		entries, err := dr.Divergent(r.Context(), identity)
		if err != nil {
			s.loggerFrom(r.Context()).ErrorContext(r.Context(), "read divergent operations", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read journal")
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	limit := defaultJournalLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxJournalLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), identity, limit)
	if err != nil {
		s.loggerFrom(r.Context()).ErrorContext(r.Context(), "read journal", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *StatusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status server", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *StatusServer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during status server shutdown", "error", err)
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
