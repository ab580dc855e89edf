package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"finsight/pkg/accesscontrol"
	"finsight/pkg/ai"
	"finsight/pkg/audit"
	"finsight/pkg/auth"
	"finsight/pkg/httpx"
	"finsight/pkg/metrics"
	"finsight/pkg/ratelimit"
	"finsight/pkg/store"
	"finsight/pkg/stream"
	"finsight/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type apiDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type auditStore interface {
	Append(ctx context.Context, rec audit.Record) error
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

type Server struct {
	DB                  apiDB
	Cache               store.Cache
	Redis               *redis.Client
	Metrics             *metrics.Registry
	Audit               auditStore
	Events              *stream.Hub
	Analyzer            ai.Analyzer
	JWTSecret           string
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	AuthRatePerMinute   int
	MaxUploadBytes      int64
	MaxRequestBodyBytes int64
	InsightsCacheTTL    time.Duration
}

type apiDBCloser interface {
	apiDB
	Close()
}

type apiInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type apiOpenDBFunc func(ctx context.Context) (apiDBCloser, error)
type apiOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type apiListenFunc func(server *http.Server) error
type apiBuildAnalyzerFunc func(client *http.Client) (ai.Analyzer, error)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryG  = telemetry.Init
	openDBFnG       = func(ctx context.Context) (apiDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG    = store.NewRedis
	listenFnG       = func(server *http.Server) error { return server.ListenAndServe() }
	buildAnalyzerFn = func(client *http.Client) (ai.Analyzer, error) { return ai.NewGeminiFromEnv(client) }
)

func main() {
	if err := runAPI(initTelemetryG, openDBFnG, openRedisFnG, buildAnalyzerFn, listenFnG); err != nil {
		logFatalf("api: %v", err)
	}
}

func runAPI(
	initTelemetry apiInitTelemetryFunc,
	openDB apiOpenDBFunc,
	openRedis apiOpenRedisFunc,
	buildAnalyzer apiBuildAnalyzerFunc,
	listen apiListenFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "api")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	pool, err := openDB(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	jwtSecret := env("JWT_SECRET", "")
	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if jwtSecret == "" && !isExplicitNonProductionEnv(runtimeEnv) {
		return errors.New("JWT_SECRET is required outside development environments")
	}
	corsOrigins := env("CORS_ALLOWED_ORIGINS", "")
	if isProductionLikeEnv(runtimeEnv) && strings.Contains(corsOrigins, "*") {
		return errors.New("wildcard CORS origins are forbidden in production-like environments")
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	maxUploadBytes := int64(envInt("MAX_UPLOAD_BYTES", 10<<20))
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}

	s := &Server{
		DB:                  pool,
		Cache:               store.NewCache(redisClient),
		Redis:               redisClient,
		Metrics:             metrics.NewRegistry(),
		Audit:               &audit.Writer{DB: pool},
		Events:              stream.NewHub(),
		JWTSecret:           jwtSecret,
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		AuthRatePerMinute:   envInt("AUTH_RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:      maxUploadBytes,
		MaxRequestBodyBytes: maxUploadBytes + (1 << 20),
		InsightsCacheTTL:    time.Second * time.Duration(envInt("INSIGHTS_CACHE_TTL_SEC", 600)),
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	analyzer, err := buildAnalyzer(telemetry.InstrumentClient(&http.Client{Timeout: time.Millisecond * time.Duration(envInt("GEMINI_TIMEOUT_MS", 30000))}))
	if err != nil {
		if isProductionLikeEnv(runtimeEnv) {
			return fmt.Errorf("analyzer: %w", err)
		}
		log.Printf("analyzer unavailable, /chat endpoints will return 503: %v", err)
	}
	s.Analyzer = analyzer

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(corsOrigins))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("api"))
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "api"})
	})

	r.Post("/auth/register", s.rateLimited(s.handleRegister))
	r.Post("/auth/login", s.rateLimited(s.handleLogin))

	authRouter := chi.NewRouter()
	authRouter.Use(s.authenticate)
	authRouter.Get("/auth/profile", s.handleProfile)
	authRouter.Put("/auth/change-password", s.handleChangePassword)

	authRouter.Post("/balance-sheet/upload", s.withRoles(s.handleSheetUpload, accesscontrol.TierAnalyst))
	authRouter.Get("/balance-sheet/company/{companyID}", s.handleSheetsForCompany)
	authRouter.Get("/balance-sheet/{id}", s.handleGetSheet)
	authRouter.Delete("/balance-sheet/{id}", s.withRoles(s.handleDeleteSheet, accesscontrol.TierAnalyst))
	authRouter.Get("/balance-sheet/{id}/stats", s.handleSheetStats)

	authRouter.Post("/chat/analyze", s.handleChatAnalyze)
	authRouter.Get("/chat/history", s.handleChatHistory)
	authRouter.Get("/chat/insights/{companyID}", s.handleCompanyInsights)

	authRouter.Get("/users/companies", s.withRoles(s.handleListCompanies, accesscontrol.TierTopManagement))
	authRouter.Post("/users/companies", s.withRoles(s.handleCreateCompany, accesscontrol.TierTopManagement))
	authRouter.Get("/users/company/{companyID}/users", s.withRoles(s.handleCompanyUsers, accesscontrol.TierTopManagement))
	authRouter.Get("/users/my-companies", s.handleMyCompanies)
	authRouter.Put("/users/{userID}/role", s.withRoles(s.handleUpdateUserRole, accesscontrol.TierTopManagement))
	authRouter.Get("/users/stats", s.handleUserStats)

	authRouter.Get("/metrics", s.withRoles(s.Metrics.Handler(), accesscontrol.TierTopManagement))
	authRouter.Get("/metrics/prometheus", s.withRoles(s.Metrics.PrometheusHandler(), accesscontrol.TierTopManagement))
	authRouter.Get("/v1/stream", s.withRoles(s.streamEvents, accesscontrol.TierTopManagement))
	authRouter.Get("/v1/audit", s.withRoles(s.handleAuditLog, accesscontrol.TierTopManagement))
	r.Mount("/", authRouter)

	addr := env("ADDR", ":8080")
	log.Printf("api listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		s.Metrics.Observe(r.Method+" "+r.URL.Path, rec.code, time.Since(start))
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the bearer token and re-fetches the user row so
// that role and company changes take effect on the very next request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			httpx.Error(w, 401, "access token required")
			return
		}
		userID, err := auth.Verify(token, s.JWTSecret, time.Now())
		if err != nil {
			httpx.Error(w, 401, "invalid token")
			return
		}
		var p auth.Principal
		row := s.DB.QueryRow(r.Context(),
			`SELECT id, email, name, role, company_id FROM users WHERE id = $1`, userID)
		if err := row.Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.CompanyID); err != nil {
			httpx.Error(w, 401, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func (s *Server) withRoles(h http.HandlerFunc, tier accesscontrol.Tier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Error(w, 401, "access token required")
			return
		}
		if d := accesscontrol.RoleAllowed(principal.Role, tier); !d.Allowed {
			s.recordDeny(r, principal, d.Reason)
			httpx.Error(w, 403, "insufficient permissions")
			return
		}
		h(w, r)
	}
}

// requireOwnership applies the second, row-level check after the tier
// gate. It writes the response itself on deny.
func (s *Server) requireOwnership(w http.ResponseWriter, r *http.Request, resourceCompanyID int64) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Error(w, 401, "access token required")
		return false
	}
	if d := accesscontrol.OwnerAllowed(principal.Role, principal.CompanyID, resourceCompanyID); !d.Allowed {
		s.recordDeny(r, principal, d.Reason)
		httpx.Error(w, 403, "access denied")
		return false
	}
	return true
}

func (s *Server) recordDeny(r *http.Request, principal auth.Principal, reason string) {
	s.Metrics.IncDenyReason(reason)
	rec := audit.Record{
		DecisionID: uuid.NewString(),
		UserID:     principal.ID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Decision:   "DENY",
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	if s.Audit != nil {
		if err := s.Audit.Append(r.Context(), rec); err != nil {
			log.Printf("audit append: %v", err)
		}
	}
	if s.Events != nil {
		s.Events.Publish(stream.NewEvent(stream.TypeAccessDenied, rec))
	}
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			h(w, r)
			return
		}
		d := s.RateLimiter.Allow(clientIP(r), s.AuthRatePerMinute)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(d.ResetAt).Seconds())+1))
			httpx.Error(w, 429, "too many requests")
			return
		}
		h(w, r)
	}
}

func principalID(r *http.Request) int64 {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p.ID
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	records, err := s.Audit.Recent(r.Context(), limit)
	if err != nil {
		httpx.Error(w, 500, "failed to load audit log")
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"records": records})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := splitList(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isProductionLikeEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "prod", "production", "staging", "stage":
		return true
	}
	return false
}

func isExplicitNonProductionEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
