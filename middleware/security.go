package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/neurotunes/sequencer/config"
)

// Security header values for the JSON API.
const (
	XContentTypeOptions   = "nosniff"
	XFrameOptions         = "DENY"
	ContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	ReferrerPolicy        = "no-referrer"
)

// SecurityHeaders middleware adds security headers to HTTP responses
type SecurityHeaders struct {
	config *config.Config
	logger *logrus.Logger
}

// NewSecurityHeaders creates a new security headers middleware
func NewSecurityHeaders(cfg *config.Config, logger *logrus.Logger) *SecurityHeaders {
	return &SecurityHeaders{
		config: cfg,
		logger: logger,
	}
}

// Handler returns the middleware handler function
func (s *SecurityHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.SecurityHeadersEnabled {
			next.ServeHTTP(w, r)
			return
		}

		header := w.Header()
		header.Set("X-Content-Type-Options", XContentTypeOptions)
		header.Set("X-Frame-Options", XFrameOptions)
		header.Set("Content-Security-Policy", ContentSecurityPolicy)
		header.Set("Referrer-Policy", ReferrerPolicy)

		next.ServeHTTP(w, r)
	})
}

// RateLimit wraps a handler with a token-bucket rate limit. A nil limiter
// disables limiting.
type RateLimit struct {
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewRateLimit builds the rate-limit middleware from config. Returns a
// pass-through when limiting is disabled.
func NewRateLimit(cfg *config.Config, logger *logrus.Logger) *RateLimit {
	var limiter *rate.Limiter
	if cfg.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.WithFields(logrus.Fields{
			"rps":   cfg.RateLimitRPS,
			"burst": cfg.RateLimitBurst,
		}).Info("Rate limiting enabled")
	} else {
		logger.Info("Rate limiting disabled")
	}

	return &RateLimit{limiter: limiter, logger: logger}
}

// Handler returns the middleware handler function
func (rl *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.limiter != nil && !rl.limiter.Allow() {
			rl.logger.WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("Rate limit exceeded")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
