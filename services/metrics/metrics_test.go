package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	InitMetrics()
	InitMetrics()

	e := echo.New()
	e.Use(Middleware())
	e.GET("/tasks/:id", func(ctx echo.Context) error {
		return ctx.NoContent(http.StatusNoContent)
	})
	e.GET("/missing", func(ctx echo.Context) error {
		return echo.ErrNotFound
	})

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/tasks/:id", "204"))
	for _, path := range []string{"/tasks/1", "/tasks/2", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/tasks/:id", "204")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequests.WithLabelValues(http.MethodGet, "/missing", "404")))
}

func TestHandler(t *testing.T) {
	InitMetrics()
	Logins.WithLabelValues("otp_sent").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kazi_logins_total{result="otp_sent"}`)
}
