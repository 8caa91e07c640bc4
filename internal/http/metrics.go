package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/feltd/internal/http"

// turnOutcomeKey is the echo context key handleTurn stores its outcome under.
const turnOutcomeKey = "feltd.turn_outcome"

// Rejection reasons for turn requests that never reached the processor.
const (
	rejectBody     = "invalid_body"
	rejectUser     = "missing_user"
	rejectID       = "invalid_id"
	rejectTooLong  = "text_too_long"
	rejectInternal = "internal"
)

// turnOutcome is what one POST /v1/turns produced. Rejected is set instead
// of the other fields when the request was refused.
type turnOutcome struct {
	Strategy string
	Source   string
	State    string
	Rejected string
}

// routeMetrics counts requests per route pattern and, for the turn route,
// which emission strategy and convergence state each turn ended in.
type routeMetrics struct {
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	turns    metric.Int64Counter
	rejected metric.Int64Counter
}

func newRouteMetrics(meter metric.Meter, logger *zap.Logger) *routeMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	m := &routeMetrics{logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"feltd.http.requests_total",
		metric.WithDescription("HTTP requests labeled by method, route pattern and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}
	m.latency, err = meter.Float64Histogram(
		"feltd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route pattern and status code"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	m.turns, err = meter.Int64Counter(
		"feltd.http.turns_total",
		metric.WithDescription("Turns served over HTTP by emission strategy, text source and convergence state"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		logger.Warn("failed to create turns counter", zap.Error(err))
	}
	m.rejected, err = meter.Int64Counter(
		"feltd.http.turn_rejections_total",
		metric.WithDescription("Turn requests refused before processing, by reason"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create turn rejections counter", zap.Error(err))
	}
	return m
}

func (m *routeMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			ctx := c.Request().Context()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", statusOf(c, err)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}

			out, ok := c.Get(turnOutcomeKey).(turnOutcome)
			switch {
			case !ok:
			case out.Rejected != "":
				if m.rejected != nil {
					m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", out.Rejected)))
				}
			case m.turns != nil:
				m.turns.Add(ctx, 1, metric.WithAttributes(
					attribute.String("strategy", out.Strategy),
					attribute.String("source", out.Source),
					attribute.String("state", out.State),
				))
			}
			return err
		}
	}
}

// routeLabel is the matched route pattern (/v1/users/:user/entities/:key),
// so user ids and entity keys never become label values. Requests that
// matched no route share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

// statusOf is the status the client will see. Handlers return
// *echo.HTTPError before echo writes the response, so the recorder's status
// is not yet final.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
