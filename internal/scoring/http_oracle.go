package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/ratelimit"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

const maxResponseBytes = 1 << 20

// HTTPOracle calls a remote scoring service.
//
// Wire format: POST <url> with the applicant data as JSON, answered by
// {"probability", "shap_values", "risk_factors", "recommendations"}.
type HTTPOracle struct {
	url     string
	client  *http.Client
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	log     *logger.Logger
}

// HTTPOracleOption customizes an HTTPOracle.
type HTTPOracleOption func(*HTTPOracle)

func WithHTTPClient(c *http.Client) HTTPOracleOption {
	return func(o *HTTPOracle) { o.client = c }
}

func WithLimiter(l *ratelimit.Limiter) HTTPOracleOption {
	return func(o *HTTPOracle) { o.limiter = l }
}

func WithLogger(l *logger.Logger) HTTPOracleOption {
	return func(o *HTTPOracle) { o.log = l.With("service", "HTTPOracle") }
}

func NewHTTPOracle(url string, opts ...HTTPOracleOption) *HTTPOracle {
	o := &HTTPOracle{
		url: url,
		// Per-attempt deadlines come from the caller's context.
		client: &http.Client{Timeout: 30 * time.Second},
		tracer: otel.Tracer("github.com/creditdesk/creditdesk/internal/scoring"),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *HTTPOracle) Score(ctx context.Context, data workflow.ApplicantData) (workflow.ScoreResult, error) {
	ctx, span := o.tracer.Start(ctx, "scoring.HTTPOracle.Score",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", o.url)))
	defer span.End()

	res, err := o.score(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return workflow.ScoreResult{}, err
	}
	span.SetAttributes(attribute.Float64("probability", res.Probability))
	return res, nil
}

func (o *HTTPOracle) score(ctx context.Context, data workflow.ApplicantData) (workflow.ScoreResult, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return workflow.ScoreResult{}, fmt.Errorf("waiting for scoring rate limit: %w", err)
		}
	}

	body, err := json.Marshal(data)
	if err != nil {
		return workflow.ScoreResult{}, fmt.Errorf("failed to encode applicant data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return workflow.ScoreResult{}, fmt.Errorf("failed to build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := o.client.Do(req)
	if err != nil {
		o.log.Warn("scoring request failed", "error", err)
		return workflow.ScoreResult{}, &workflow.TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return workflow.ScoreResult{}, &workflow.TransientError{Err: fmt.Errorf("reading scoring response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return workflow.ScoreResult{}, &workflow.TransientError{Err: statusError(resp.StatusCode, raw)}
	case resp.StatusCode >= 400:
		return workflow.ScoreResult{}, statusError(resp.StatusCode, raw)
	case resp.StatusCode != http.StatusOK:
		return workflow.ScoreResult{}, statusError(resp.StatusCode, raw)
	}

	var result workflow.ScoreResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return workflow.ScoreResult{}, fmt.Errorf("failed to decode scoring response: %w", err)
	}
	return result, nil
}

func statusError(code int, body []byte) error {
	msg := string(bytes.TrimSpace(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("scoring service returned %d: %s", code, msg)
}
