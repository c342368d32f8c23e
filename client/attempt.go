package client

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
	"github.com/petal-labs/conduit/policy"
	"github.com/petal-labs/conduit/transport"
)

// chatEndpointID is the endpoint id every chat call is admitted and
// classified under; service dispatch (services.go) uses the service's own
// id instead.
const chatEndpointID = "chat"

// modelAttemptResult is the successful outcome of attemptWithFallback: the
// manifest and raw transport response the caller hands to the registry's
// pipeline to produce a ChatResponse or ChatStream.
type modelAttemptResult struct {
	manifest *manifest.Manifest
	resp     *transport.Response
}

// runNonStreaming drives the full §4.6 attempt loop for a non-streaming
// call and collapses the winning attempt's body into a ChatResponse.
func runNonStreaming(ctx context.Context, c *AiClient, req *core.ChatRequest) (*core.ChatResponse, *core.CallStats, error) {
	clientRequestID := uuid.NewString()
	stats := &core.CallStats{ClientRequestID: clientRequestID, Model: req.Model, Endpoint: chatEndpointID}

	result, err := attemptWithFallback(ctx, c, req, clientRequestID, stats)
	if err != nil {
		return nil, stats, err
	}
	stats.UpstreamRequestID = result.resp.UpstreamRequestID

	pipe, err := c.registry.Pipeline(result.manifest)
	if err != nil {
		return nil, stats, err
	}
	resp, err := pipe.RunNonStreaming(ctx, result.resp.Body, clientRequestID)
	finalizeStats(stats)
	return resp, stats, err
}

// runStreaming drives the attempt loop up to and including the first
// successful transport round trip, then hands the open byte-stream to the
// registry's pipeline and returns its ChatStream. Every attempt/retry/
// fallback decision happens before this point; nothing after it replays.
func runStreaming(ctx context.Context, c *AiClient, req *core.ChatRequest) (*core.ChatStream, *core.CallStats, error) {
	clientRequestID := uuid.NewString()
	stats := &core.CallStats{ClientRequestID: clientRequestID, Model: req.Model, Endpoint: chatEndpointID}

	result, err := attemptWithFallback(ctx, c, req, clientRequestID, stats)
	if err != nil {
		return nil, stats, err
	}
	stats.UpstreamRequestID = result.resp.UpstreamRequestID

	pipe, err := c.registry.Pipeline(result.manifest)
	if err != nil {
		result.resp.Stream.Close()
		return nil, stats, err
	}
	finalizeStats(stats)
	return pipe.Run(ctx, result.resp.Stream, clientRequestID), stats, nil
}

func finalizeStats(stats *core.CallStats) {
	var total time.Duration
	for _, d := range stats.Latencies {
		total += d
	}
	stats.TotalLatency = total
}

// attemptWithFallback walks the fallback chain (the primary model first,
// then req.Fallbacks or the client's default chain), retrying each model
// per its own manifest's retry policy before giving up on it and moving to
// the next (§4.3 Retry decision, §4.3 Fallback decision).
func attemptWithFallback(ctx context.Context, c *AiClient, req *core.ChatRequest, clientRequestID string, stats *core.CallStats) (*modelAttemptResult, error) {
	chain := c.fallbackChainFor(req)
	model := req.Model
	idx := -1

	for {
		result, aiErr := attemptModel(ctx, c, req, model, clientRequestID, stats)
		if aiErr == nil {
			return result, nil
		}

		next, nextIdx, ok := policy.NextFallback(chain, idx, aiErr)
		if !ok {
			return nil, aiErr
		}
		stats.FallbackCount++
		model, idx = next, nextIdx
	}
}

// attemptModel runs the retry loop for one model: capability pre-flight,
// compile, then repeated admit+transport attempts until the retry policy
// says to stop, returning the last attempt's classified error if so.
func attemptModel(ctx context.Context, c *AiClient, req *core.ChatRequest, model core.ModelID, clientRequestID string, stats *core.CallStats) (*modelAttemptResult, *core.AIError) {
	m, cred, _, err := c.resolve(model)
	if err != nil {
		return nil, &core.AIError{Code: core.CodeInvalidRequest, Model: string(model), ClientRequestID: clientRequestID, Err: err, HumanMessage: err.Error()}
	}

	if err := policy.CheckCapabilities(m, req); err != nil {
		return nil, &core.AIError{Code: core.CodeInvalidRequest, Provider: m.ProviderID, Model: string(model), ClientRequestID: clientRequestID, Err: err, HumanMessage: err.Error()}
	}

	logger := core.Logger(ctx).With().Str("client_request_id", clientRequestID).Str("provider", m.ProviderID).Logger()
	compiled, err := manifest.Compile(m, req, logger)
	if err != nil {
		return nil, &core.AIError{Code: core.CodeInvalidRequest, Provider: m.ProviderID, Model: string(model), ClientRequestID: clientRequestID, Err: err, HumanMessage: err.Error()}
	}

	for attempt := 0; ; attempt++ {
		stats.AttemptCount++
		resp, aiErr := doAttempt(ctx, c, m, model, cred, compiled, req.Stream, clientRequestID, attempt, stats)
		if aiErr == nil {
			return &modelAttemptResult{manifest: m, resp: resp}, nil
		}

		var retryAfter time.Duration
		if resp != nil {
			retryAfter = retryAfterFromHeaders(resp.Headers)
		}
		delay, retry := policy.Decide(m.RetryPolicy, attempt, aiErr, retryAfter)
		if !retry {
			return nil, aiErr
		}
		stats.RetryCount++
		stats.RetryReasons = append(stats.RetryReasons, aiErr.Code.Name())

		select {
		case <-ctx.Done():
			return nil, &core.AIError{Code: core.CodeCancelled, Provider: m.ProviderID, Model: string(model), ClientRequestID: clientRequestID, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

// doAttempt runs the §4.3 policy gate and one transport round trip,
// recording the outcome with the policy engine and telemetry hook on every
// exit path. It returns the raw response even on an HTTP-status failure so
// the caller can read a Retry-After header from it.
func doAttempt(ctx context.Context, c *AiClient, m *manifest.Manifest, model core.ModelID, cred core.Secret, compiled *manifest.CompileResult, streaming bool, clientRequestID string, attempt int, stats *core.CallStats) (*transport.Response, *core.AIError) {
	release, err := c.policy.Admit(ctx, m.ProviderID, chatEndpointID)
	if err != nil {
		return nil, classifyAdmitErr(err, m, clientRequestID)
	}

	headers, queryParam, queryValue := transport.BuildAuthHeaders(m.Auth, cred.Expose())
	url := buildURL(m.EffectiveBaseURL(compiled.Endpoint)+compiled.Endpoint.Path, queryParam, queryValue)

	start := time.Now()
	c.telemetry.OnRequestStart(core.RequestStartEvent{
		ClientRequestID: clientRequestID,
		Model:           model,
		Endpoint:        chatEndpointID,
		AttemptNumber:   attempt,
		Streaming:       streaming,
		StartedAt:       start,
	})

	treq := transport.Request{
		Method:          compiled.Endpoint.Method,
		URL:             url,
		Headers:         headers,
		Body:            compiled.Payload,
		ClientRequestID: clientRequestID,
	}

	var resp *transport.Response
	var tErr error
	if streaming {
		resp, tErr = c.transport.Stream(ctx, treq)
	} else {
		resp, tErr = c.transport.Do(ctx, treq)
	}
	release()
	stats.Latencies = append(stats.Latencies, time.Since(start))

	end := core.RequestEndEvent{
		ClientRequestID: clientRequestID,
		Endpoint:        chatEndpointID,
		AttemptNumber:   attempt,
		EndedAt:         time.Now(),
	}.WithStartedAt(start)

	if tErr != nil {
		aiErr := classifyTransportErr(tErr, m, clientRequestID)
		c.policy.RecordOutcome(m.ProviderID, chatEndpointID, aiErr)
		end.StandardCode = aiErr.Code
		c.telemetry.OnRequestEnd(end)
		return nil, aiErr
	}

	c.policy.AdjustRateLimit(m.ProviderID, resp.Headers, m.RateLimitHeaders)
	end.HTTPStatus = resp.StatusCode
	end.UpstreamRequestID = resp.UpstreamRequestID

	if resp.StatusCode >= 400 {
		aiErr := classifyHTTPErr(resp, m, clientRequestID)
		c.policy.RecordOutcome(m.ProviderID, chatEndpointID, aiErr)
		end.StandardCode = aiErr.Code
		c.telemetry.OnRequestEnd(end)
		return resp, aiErr
	}

	c.policy.RecordOutcome(m.ProviderID, chatEndpointID, nil)
	c.telemetry.OnRequestEnd(end)
	return resp, nil
}

func buildURL(base, queryParam, queryValue string) string {
	if queryParam == "" {
		return base
	}
	sep := "?"
	if contains(base, "?") {
		sep = "&"
	}
	return base + sep + queryParam + "=" + queryValue
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// classifyAdmitErr turns a policy.Engine.Admit failure into the AIError
// the retry/fallback decision consumes (§4.3 steps 2-4: a tripped breaker
// or an unavailable in-flight slot both mean "the endpoint looks
// unhealthy right now", a tightened rate limiter means "we're over our
// budget").
func classifyAdmitErr(err error, m *manifest.Manifest, clientRequestID string) *core.AIError {
	code := core.CodeOverloaded
	var rateErr *policy.ErrRateLimitWait
	if errors.As(err, &rateErr) {
		code = core.CodeRateLimited
	}
	return &core.AIError{
		Code: code, Provider: m.ProviderID, Endpoint: chatEndpointID,
		ClientRequestID: clientRequestID, Err: err, HumanMessage: err.Error(),
	}
}

// classifyTransportErr turns a pre-HTTP-status failure (DNS, TLS, socket,
// cancellation) into an AIError.
func classifyTransportErr(err error, m *manifest.Manifest, clientRequestID string) *core.AIError {
	code := core.CodeServerError
	switch {
	case errors.Is(err, context.Canceled):
		code = core.CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = core.CodeTimeout
	}
	return &core.AIError{
		Code: code, Provider: m.ProviderID, Endpoint: chatEndpointID,
		ClientRequestID: clientRequestID, Err: err, HumanMessage: err.Error(),
	}
}

// classifyHTTPErr runs the §4.5 classification priority chain: a manifest-
// declared provider error code first, then the manifest's by_http_status
// table (via Manifest.ClassifyHTTPStatus, which itself falls through to
// the fixed standard mapping).
func classifyHTTPErr(resp *transport.Response, m *manifest.Manifest, clientRequestID string) *core.AIError {
	providerCode := extractProviderErrorCode(resp.Body)
	code := core.CodeUnknown
	if providerCode != "" {
		if c, ok := m.ClassifyProviderCode(providerCode); ok {
			code = c
		}
	}
	if code == core.CodeUnknown {
		code = m.ClassifyHTTPStatus(resp.StatusCode)
	}
	return &core.AIError{
		Code:              code,
		Provider:          m.ProviderID,
		Endpoint:          chatEndpointID,
		HTTPStatus:        resp.StatusCode,
		ClientRequestID:   clientRequestID,
		UpstreamRequestID: resp.UpstreamRequestID,
		ProviderErrorCode: providerCode,
		HumanMessage:      extractErrorMessage(resp.Body),
	}
}

// extractProviderErrorCode reads the common {"error": {"code"|"type": ...}}
// shape most provider error bodies use, the same fallback the original
// implementation applies once a manifest's own error-code path (if any)
// comes up empty (SPEC_FULL.md Open Questions).
func extractProviderErrorCode(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if v := gjson.GetBytes(body, "error.code"); v.Exists() {
		return v.String()
	}
	if v := gjson.GetBytes(body, "error.type"); v.Exists() {
		return v.String()
	}
	return ""
}

func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if v := gjson.GetBytes(body, "error.message"); v.Exists() {
		return v.String()
	}
	return ""
}

func retryAfterFromHeaders(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
