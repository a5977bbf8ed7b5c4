package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"spendly/internal/cache"
	"spendly/internal/feed"
	"spendly/internal/gateway"
	"spendly/internal/identity"
	"spendly/internal/log"
	"spendly/internal/middleware/ratelimit"
	"spendly/internal/middleware/security"
	"spendly/internal/middleware/trace"
	"spendly/internal/session"
	appweb "spendly/web"
)

// Identity is the identity provider as the web layer uses it.
type Identity interface {
	session.Source
	Register(ctx context.Context, email, password string) (*identity.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.User, error)
	Providers() []string
	BeginFederated(provider string) (string, error)
	CompleteFederated(ctx context.Context, provider, state, code string) (*identity.User, error)
	IssueSession(sid string, u *identity.User) (string, error)
	ResolveSession(ctx context.Context, token string) (string, *identity.User, error)
	SignOut(ctx context.Context, sid string)
}

// Expenses reads owner-scoped expense snapshots.
type Expenses interface {
	Load(ctx context.Context, ownerID string) (feed.Snapshot, error)
	Track(ctx context.Context, state *session.State) *feed.Tracker
}

// Mutations writes expenses on behalf of the signed-in user.
type Mutations interface {
	Create(ctx context.Context, owner *identity.User, f gateway.Fields) (gateway.Result, error)
	Update(ctx context.Context, owner *identity.User, id string, f gateway.Fields) (gateway.Result, error)
	Delete(ctx context.Context, owner *identity.User, id string) (gateway.Result, error)
}

// Options tunes the server.
type Options struct {
	Addr string
	// SecureCookies marks cookies Secure; enable behind HTTPS.
	SecureCookies      bool
	SessionTTL         time.Duration
	RateLimitPerMinute int
	// KeepAlive is the interval between pings on idle dashboard streams.
	KeepAlive time.Duration
	// LoadTimeout bounds the one-shot snapshot read behind full page renders.
	LoadTimeout time.Duration
	// TrustedProxies are extra CIDRs whose forwarding headers are honoured.
	TrustedProxies []string
}

// Deps are the services behind the handlers.
type Deps struct {
	Identity Identity
	Expenses Expenses
	Gateway  Mutations
	// Ready reports whether the backing store is reachable.
	Ready  func(context.Context) error
	Caches *cache.Manager
	Logger *log.Logger
}

type Server struct {
	http.Server
	templates *template.Template
	identity  Identity
	expenses  Expenses
	gateway   Mutations
	ready     func(context.Context) error
	logger    *log.Logger
	opts      Options

	// boards holds the pending notice of each browser session that posted a
	// plain (non-htmx) form.
	boards   *cache.LRUCache[*gateway.Board]
	boardsMu sync.Mutex

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	metrics appMetrics

	// done is closed when shutdown begins so open streams can finish.
	done         chan struct{}
	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime        time.Time
	activeStreams int64
	mutations     int64
	mutationFails int64
}

// NewServer parses templates and configures routes and middleware.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}

	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		templates: t,
		identity:  deps.Identity,
		expenses:  deps.Expenses,
		gateway:   deps.Gateway,
		ready:     deps.Ready,
		logger:    logger,
		opts:      opts,
		boards:    cache.NewLRUCache[*gateway.Board](10000, 30*time.Minute),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}, logger),
		detector:  security.NewDetector(logger),
		metrics:   appMetrics{uptime: time.Now()},
		done:      make(chan struct{}),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.limiter.Stop()
			return nil, err
		}
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)
	if deps.Caches != nil {
		deps.Caches.Register(s.boards)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit, http.MethodPost, http.MethodDelete)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	// No WriteTimeout: dashboard streams stay open.
	s.Addr = opts.Addr
	s.Handler = handler
	s.ReadHeaderTimeout = 10 * time.Second
	s.ReadTimeout = 30 * time.Second
	s.IdleTimeout = 120 * time.Second
	s.MaxHeaderBytes = 1 << 16
	s.Server.RegisterOnShutdown(s.beginShutdown)
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("GET /{$}", s.withSession(s.handleLanding))
	mux.Handle("GET /login", s.withSession(s.handleLoginPage))
	mux.Handle("POST /login", s.withSession(s.handleLogin))
	mux.Handle("GET /register", s.withSession(s.handleRegisterPage))
	mux.Handle("POST /register", s.withSession(s.handleRegister))
	mux.Handle("POST /logout", s.withSession(s.handleLogout))
	mux.Handle("GET /auth/{provider}", s.withSession(s.handleFederatedStart))
	mux.Handle("GET /auth/{provider}/callback", s.withSession(s.handleFederatedCallback))

	mux.Handle("GET /dashboard", s.requireUser(s.handleDashboard))
	mux.Handle("GET /dashboard/view", s.requireUser(s.handleDashboardView))
	mux.Handle("GET /dashboard/form", s.requireUser(s.handleExpenseForm))
	mux.Handle("GET /dashboard/stream", s.requireUser(s.handleStream))

	// Mutations run without a session too so the gateway can answer
	// "Not authenticated."
	mux.Handle("POST /expenses", s.withSession(s.handleCreateExpense))
	mux.Handle("POST /expenses/{id}", s.withSession(s.handleUpdateExpense))
	mux.Handle("DELETE /expenses/{id}", s.withSession(s.handleDeleteExpense))
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		NewHTMXResponse().
			Status(http.StatusTooManyRequests).
			TriggerNotification(gateway.NoticeError, "Too many requests. Please try again later.", gateway.DefaultNoticeDuration.Milliseconds()).
			Write(w)
		return
	}
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
}

// board returns the notice board of browser session sid.
func (s *Server) board(sid string) *gateway.Board {
	s.boardsMu.Lock()
	defer s.boardsMu.Unlock()
	if b, ok := s.boards.Get(sid); ok {
		return b
	}
	b := gateway.NewBoard(nil)
	s.boards.Set(sid, b)
	return b
}

// pendingNotice returns the notice still showing for sid, without creating
// a board for sessions that never posted one.
func (s *Server) pendingNotice(sid string) *gateway.Notice {
	b, ok := s.boards.Get(sid)
	if !ok {
		return nil
	}
	if n, ok := b.Current(); ok {
		return &n
	}
	return nil
}

func (s *Server) beginShutdown() {
	s.shutdownOnce.Do(func() { close(s.done) })
}

// Shutdown ends open dashboard streams, stops background work and then
// shuts the HTTP server down.
func (s *Server) Shutdown(ctx context.Context) error {
	s.beginShutdown()
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (s *Server) streamOpened() { atomic.AddInt64(&s.metrics.activeStreams, 1) }
func (s *Server) streamClosed() { atomic.AddInt64(&s.metrics.activeStreams, -1) }
