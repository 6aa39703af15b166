package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/telemetry"
)

const (
	requestEventName = "taskboard.api.request"
	metricsKey       = "metrics"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies. Requests
// with invalid gzip payloads are rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// RequestMetricsMiddleware wraps every request in a span and logs one
// observability event when it completes. Handlers add attributes through
// metricsFrom.
func RequestMetricsMiddleware(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			metrics, ctx := telemetry.StartRequest(req.Context(), logger, requestEventName, "board", req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsKey, metrics)
			defer func() {
				status := c.Response().Status
				if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
					status = he.Code
				}
				metrics.Log(status, err)
			}()
			return next(c)
		}
	}
}

// metricsFrom returns the request metrics, or nil outside the middleware.
func metricsFrom(c echo.Context) *telemetry.RequestMetrics {
	m, _ := c.Get(metricsKey).(*telemetry.RequestMetrics)
	return m
}
