package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
	"fintrack/internal/services"
)

type Options struct {
	RateLimitPerMinute int
	Cookie             CookieOptions
	// TrustedProxies are extra CIDRs whose forwarding headers are honoured.
	TrustedProxies []string
}

type Dependencies struct {
	Ledger   *services.LedgerService
	Accounts *services.AccountService
	Sessions *cache.SessionStore
	Logger   *log.Logger
	Options  Options
}

type Server struct {
	http.Server
	ledger   *services.LedgerService
	accounts *services.AccountService
	sessions *cache.SessionStore
	logger   *log.Logger
	events   *log.StructuredLogger
	cookie   CookieOptions

	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Dependencies) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	cookie := deps.Options.Cookie
	if cookie.Name == "" {
		cookie.Name = "fintrack_session"
	}
	if cookie.TTL <= 0 {
		cookie.TTL = 24 * time.Hour
	}

	detector := security.NewDetector()
	for _, cidr := range deps.Options.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}

	s := &Server{
		Server:   http.Server{Addr: addr},
		ledger:   deps.Ledger,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		logger:   logger,
		events:   log.NewStructuredLogger(logger),
		cookie:   cookie,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.Options.RateLimitPerMinute}),
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
		detector: detector,
	}

	app := http.NewServeMux()
	s.routes(app)

	var appHandler http.Handler = app
	appHandler = security.NoStore(appHandler)
	appHandler = s.withSession(appHandler)
	appHandler = s.limiter.Middleware(detector.ExtractClientIP, s.handleRateLimited)(appHandler)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handleHealth)
	root.HandleFunc("GET /readyz", s.handleReady)
	root.HandleFunc("GET /metrics", s.handleMetrics)
	root.Handle("/", appHandler)

	var h http.Handler = root
	h = detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.Recovery(s.handlePanic)(h)
	h = s.tracer.Middleware(h)
	s.Handler = h

	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		Redirect("/dashboard").Write(w)
	})

	// Accounts
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", s.handleLogout)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /delete_account", s.requireLogin(s.handleDeleteAccount))
	mux.HandleFunc("GET /api/notices", s.handleNotices)
	mux.HandleFunc("GET /api/account", s.requireAPILogin(s.handleAccount))
	mux.HandleFunc("GET /api/dashboard", s.requireAPILogin(s.handleDashboard))

	// Categories
	mux.HandleFunc("GET /api/categories", s.requireAPILogin(s.handleListCategories))
	mux.HandleFunc("POST /add_category", s.requireLogin(s.handleAddCategory))
	mux.HandleFunc("POST /edit_category/{id}", s.requireLogin(s.handleEditCategory))
	mux.HandleFunc("POST /delete_category/{id}", s.requireLogin(s.handleDeleteCategory))

	// Transactions
	mux.HandleFunc("POST /add_transaction", s.requireLogin(s.handleAddTransaction))
	mux.HandleFunc("POST /edit_transaction/{id}", s.requireLogin(s.handleEditTransaction))
	mux.HandleFunc("POST /delete_transaction/{id}", s.requireLogin(s.handleDeleteTransaction))
	mux.HandleFunc("GET /api/transactions/{id}", s.requireAPILogin(s.handleGetTransaction))
	mux.HandleFunc("GET /api/history", s.requireAPILogin(s.handleHistory))

	// Reports
	mux.HandleFunc("GET /api/report", s.requireAPILogin(s.handleReport))
	mux.HandleFunc("GET /get_transactions_data", s.requireAPILogin(s.handlePieData))
	mux.HandleFunc("GET /get_transactions_bar_data", s.requireAPILogin(s.handleBarData))
	mux.HandleFunc("GET /charts/pie.png", s.requireAPILogin(s.handlePieChart))
	mux.HandleFunc("GET /charts/bar.png", s.requireAPILogin(s.handleBarChart))
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.ledger.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tm := s.tracer.GetMetrics()
	rm := s.limiter.GetMetrics()
	dm := s.detector.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, "fintrack_http_requests_total %d\n", tm.TotalRequests)
	fmt.Fprintf(w, "fintrack_http_requests_in_flight %d\n", tm.InFlight)
	fmt.Fprintf(w, "fintrack_http_client_errors_total %d\n", tm.ClientErrors)
	fmt.Fprintf(w, "fintrack_http_server_errors_total %d\n", tm.ServerErrors)
	fmt.Fprintf(w, "fintrack_http_response_time_avg_us %d\n", tm.AverageResponseTime)
	fmt.Fprintf(w, "fintrack_rate_limit_hits_total %d\n", rm.TotalHits)
	fmt.Fprintf(w, "fintrack_rate_limit_clients %d\n", rm.ClientCount)
	fmt.Fprintf(w, "fintrack_security_suspicious_requests_total %d\n", dm.SuspiciousRequests)
	fmt.Fprintf(w, "fintrack_security_invalid_ip_total %d\n", dm.InvalidIPAttempts)
	fmt.Fprintf(w, "fintrack_sessions_active %d\n", s.sessions.Len())
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, msgRateLimited).Write(w)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	InternalServerError(msgGeneric).Write(w)
}
