// Package transport performs the single HTTP request/response or
// HTTP-to-byte-stream hop for one attempt (§4.4). It knows nothing about
// policy or the streaming pipeline's frame semantics, and of a manifest it
// reads only the auth config (BuildAuthHeaders) — otherwise only bytes,
// headers, status codes, and cancellation.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/petal-labs/conduit/manifest"
)

// Request is everything transport needs to issue one HTTP call.
type Request struct {
	Method          string
	URL             string
	Headers         http.Header
	Body            []byte
	ClientRequestID string
	AttemptTimeout  time.Duration
}

// Response is the outcome of a non-streaming or streaming call's initial
// round trip: the status line and headers are always populated; exactly
// one of Body / Stream is set depending on whether the caller asked for a
// byte-stream.
type Response struct {
	StatusCode        int
	Headers           http.Header
	Body              []byte
	Stream             io.ReadCloser
	UpstreamRequestID string
}

// upstreamIDHeaders lists the header names checked, in order, for a
// provider's own request-id (§4.4 "best-effort" extraction).
var upstreamIDHeaders = []string{"x-request-id", "request-id", "x-amzn-requestid", "cf-ray"}

// Client issues HTTP requests on behalf of the policy/client layers. It
// wraps an *http.Client the same way the teacher's provider packages do,
// but generically: there is no per-provider subtype.
type Client struct {
	HTTP *http.Client
}

// New constructs a Client with a reasonable base http.Client; per-attempt
// timeouts are applied via context in Do/Stream, not on the shared client,
// so one Client can serve attempts with different timeouts concurrently.
func New() *Client {
	return &Client{HTTP: &http.Client{}}
}

// BuildAuthHeaders applies a manifest's auth config to a header set,
// returning the header set to mutate further and, for the query scheme,
// the query parameter name/value pair the caller must append to the URL
// (transport does not own URL construction).
func BuildAuthHeaders(auth manifest.AuthConfig, credential string) (http.Header, string, string) {
	h := make(http.Header)
	switch auth.Scheme {
	case manifest.AuthBearer:
		h.Set("Authorization", "Bearer "+credential)
	case manifest.AuthHeader:
		name := auth.HeaderName
		if name == "" {
			name = "Authorization"
		}
		h.Set(name, credential)
	case manifest.AuthQuery:
		for k, v := range auth.ExtraHeaders {
			h.Set(k, v)
		}
		return h, auth.QueryParam, credential
	}
	for k, v := range auth.ExtraHeaders {
		h.Set(k, v)
	}
	return h, "", ""
}

// Do performs a non-streaming request: the full response body is read and
// returned as bytes. Cancellation of ctx aborts the in-flight request and
// drops the socket (§4.4 Cancellation).
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, cancel, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if cancel != nil {
		defer cancel()
	}

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	return &Response{
		StatusCode:        httpResp.StatusCode,
		Headers:           httpResp.Header,
		Body:              body,
		UpstreamRequestID: extractUpstreamRequestID(httpResp.Header),
	}, nil
}

// Stream performs a request and returns an open byte-stream instead of a
// fully-read body. The caller MUST close Response.Stream; closing it (or
// cancelling ctx) terminates the underlying socket read promptly.
func (c *Client) Stream(ctx context.Context, req Request) (*Response, error) {
	httpReq, cancel, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, classifyTransportErr(err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		if cancel != nil {
			defer cancel()
		}
		body, _ := io.ReadAll(httpResp.Body)
		return &Response{
			StatusCode:        httpResp.StatusCode,
			Headers:           httpResp.Header,
			Body:              body,
			UpstreamRequestID: extractUpstreamRequestID(httpResp.Header),
		}, nil
	}

	stream := &cancelableStream{
		rc:     httpResp.Body,
		r:      bufio.NewReaderSize(httpResp.Body, 64*1024),
		cancel: cancel,
	}

	return &Response{
		StatusCode:        httpResp.StatusCode,
		Headers:           httpResp.Header,
		Stream:            stream,
		UpstreamRequestID: extractUpstreamRequestID(httpResp.Header),
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, context.CancelFunc, error) {
	var cancel context.CancelFunc
	if req.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.AttemptTimeout)
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, nil, fmt.Errorf("transport: build request: %w", err)
	}

	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.ClientRequestID != "" {
		httpReq.Header.Set("x-ai-protocol-request-id", req.ClientRequestID)
	}

	return httpReq, cancel, nil
}

func extractUpstreamRequestID(h http.Header) string {
	for _, name := range upstreamIDHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// classifyTransportErr wraps a low-level network/TLS/DNS error so the
// policy layer's classification step (§4.5) can recognize it as a
// transport-level failure distinct from an HTTP-status failure.
func classifyTransportErr(err error) error {
	return &TransportError{Err: err}
}

// TransportError marks a failure that happened before any HTTP status was
// received (DNS, TLS, socket, or context cancellation/deadline).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// cancelableStream wraps an http.Response.Body so Close also invokes the
// request's context cancel func, guaranteeing the socket is released even
// if the caller only ever calls Close and never drains ctx.Done().
type cancelableStream struct {
	rc     io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

func (s *cancelableStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *cancelableStream) Close() error {
	err := s.rc.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}
