package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazi",
		Name:      "http_requests_total",
		Help:      "HTTP requests handled, by method, route and status code.",
	}, []string{"method", "route", "code"})

	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazi",
		Name:      "logins_total",
		Help:      "Login attempts, by result.",
	}, []string{"result"})

	OTPVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazi",
		Name:      "otp_verifications_total",
		Help:      "OTP verifications, by result.",
	}, []string{"result"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazi",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limiter, by scope.",
	}, []string{"scope"})

	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kazi",
		Name:      "uploads_total",
		Help:      "Files uploaded, by kind.",
	}, []string{"kind"})

	initOnce sync.Once
)

// InitMetrics registers the collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequests, Logins, OTPVerifications, RateLimited, Uploads)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts handled requests by matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			err := next(ctx)
			code := ctx.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					code = he.Code
				} else if !ctx.Response().Committed {
					// resolved later by the error handler
					code = 0
				}
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			status := "unknown"
			if code > 0 {
				status = strconv.Itoa(code)
			}
			HTTPRequests.WithLabelValues(ctx.Request().Method, route, status).Inc()
			return err
		}
	}
}
