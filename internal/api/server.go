// Package api is the HTTP gateway: a streaming chat endpoint over SSE and a
// small REST surface for intake logs, behind bearer-token authentication.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutria0/nutria/internal/agent"
	"github.com/nutria0/nutria/internal/auth"
	"github.com/nutria0/nutria/internal/intake"
)

// ChatRunner executes one conversational turn, streaming text through emit.
type ChatRunner interface {
	Run(ctx context.Context, req agent.Request, emit agent.EmitFunc) (*agent.Result, error)
}

// IntakeStore is the persistence surface the REST handlers need.
type IntakeStore interface {
	SaveFood(ctx context.Context, e *intake.FoodEntry) error
	SaveWater(ctx context.Context, e *intake.WaterEntry) error
	FoodBetween(ctx context.Context, userID string, from, to time.Time) ([]*intake.FoodEntry, error)
	WaterBetween(ctx context.Context, userID string, from, to time.Time) ([]*intake.WaterEntry, error)
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Auth        auth.Authenticator // Required
	Runner      ChatRunner         // Required
	Intake      IntakeStore        // Required
	Pool        *pgxpool.Pool      // Optional: nil disables pool stats in /ready
	OTP         OTPIssuer          // Optional: nil disables the one-time-code endpoints
	CORSOrigins []string           // Allowed origins for CORS
	TrustProxy  bool               // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int                // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("chat runner is required")
	}
	if cfg.Intake == nil {
		return nil, errors.New("intake store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{runner: cfg.Runner, logger: logger}
	ih := &intakeHandler{store: cfg.Intake, logger: logger}

	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/v1/chat/stream", ch.stream)

	// Intake logs
	mux.HandleFunc("GET /api/v1/intake/food", ih.listFood)
	mux.HandleFunc("POST /api/v1/intake/food", ih.createFood)
	mux.HandleFunc("GET /api/v1/intake/water", ih.listWater)
	mux.HandleFunc("POST /api/v1/intake/water", ih.createWater)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log attributes.
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Auth, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Use a top-level mux to separate health probes from the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	// One-time-code endpoints run the same stack minus auth: callers hit
	// them to obtain credentials, so a bearer token cannot be required.
	// The longer pattern wins over "/" in the top-level mux.
	if cfg.OTP != nil {
		oh := &otpHandler{issuer: cfg.OTP, logger: logger}
		otpMux := http.NewServeMux()
		otpMux.HandleFunc("POST /api/v1/auth/otp/request", oh.requestCode)
		otpMux.HandleFunc("POST /api/v1/auth/otp/verify", oh.verifyCode)

		var public http.Handler = otpMux
		public = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(public)
		public = corsMiddleware(cfg.CORSOrigins)(public)
		public = loggingMiddleware(logger)(public)
		public = requestIDMiddleware()(public)
		public = recoveryMiddleware(logger)(public)
		topMux.Handle("/api/v1/auth/otp/", public)
	}

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
