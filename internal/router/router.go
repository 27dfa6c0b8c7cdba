package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
)

const requestIDHeader = "X-Request-ID"

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware logs each request at debug level, tagged with its request id.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
				"request_id", w.Header().Get(requestIDHeader),
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers. API responses
// are never framed or cached.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware keeps an incoming X-Request-ID or assigns a new uuid,
// and echoes it on the response.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r)
		})
	}
}

// Options configures RegisterRoutes.
type Options struct {
	Auth         *auth.Handler
	RateLimitRPM int
	Version      string
}

// RegisterRoutes mounts the API on an http.ServeMux. Auth endpoints are rate
// limited per client and the profile and OTP endpoints require a bearer token.
func RegisterRoutes(logger *zap.SugaredLogger, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": opts.Version})
	})

	h := opts.Auth
	limited := NewRateLimiter(opts.RateLimitRPM).Wrap
	mount := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, limited(fn))
	}

	mount("POST /api/auth/signup", h.Signup)
	mount("POST /api/auth/login", h.Login)
	mount("POST /api/auth/logout", h.Logout)
	mount("GET /api/auth/profile", h.RequireAuth(h.Profile))
	mount("PUT /api/auth/profile", h.RequireAuth(h.UpdateProfile))
	mount("PUT /api/auth/change-password", h.RequireAuth(h.ChangePassword))
	mount("POST /api/auth/resend-otp", h.RequireAuth(h.ResendOTP))
	mount("POST /api/auth/verify-otp", h.RequireAuth(h.VerifyOTP))
	mount("POST /api/auth/forgot-password", h.ForgotPassword)
	mount("POST /api/auth/verify-reset-token", h.VerifyResetToken)
	mount("POST /api/auth/reset-password", h.ResetPassword)

	return RequestIDMiddleware()(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux)))
}
