package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/user"
	"github.com/trezcool/kazi/services/metrics"
)

// pageLimitMiddleware caps the number of requests per client IP.
func pageLimitMiddleware(limiter core.Limiter, conf *core.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if limiter == nil || conf.RateLimit.PageRequests <= 0 {
				return next(ctx)
			}
			allowed, err := limiter.Allow(ctx.Request().Context(), "page:"+ctx.RealIP(), conf.RateLimit.PageRequests, conf.RateLimit.PageWindow)
			if err != nil {
				return errors.Wrap(err, "limiting page requests")
			}
			if !allowed {
				metrics.RateLimited.WithLabelValues("page").Inc()
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

// authMiddleware loads the User of a valid JWT, rejecting deleted & deactivated accounts.
// It must run after the JWT middleware.
func authMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			return next(ctx)
		}
	}
}

// managerMiddleware only lets Users who can manage other Users through.
func managerMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}
			if !usr.CanManageUsers() {
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}
