package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/rongwang/groupledger/internal/models"
)

// SecureHeaders sets the standard hardening headers. SSL redirects are only
// enforced in production.
func SecureHeaders(production bool, logger *slog.Logger) gin.HandlerFunc {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !production,
	})

	return func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			logger.Warn("secure headers blocked request", slog.Any("error", err))
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		// Process already wrote a redirect
		if status := c.Writer.Status(); status > 300 && status < 399 {
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimit caps requests per client IP over window
func RateLimit(requests int, window time.Duration) gin.HandlerFunc {
	limiter := httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":"error","code":"RATE_LIMITED","message":"Too many requests"}`))
		}),
	)

	return func(c *gin.Context) {
		passed := false
		limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		}
		if clientID, ok := c.Get("clientId"); ok {
			attrs = append(attrs, slog.Any("client", clientID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request", attrs...)
			return
		}
		logger.Info("request", attrs...)
	}
}

// Recovery turns a panic into a JSON 500
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", slog.Any("panic", recovered), slog.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
			Status:  "error",
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		})
	})
}
