package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/transport"
)

// Service runs one of a provider's manifest-declared management operations
// (§3 "services", e.g. list_models) and binds the response body into a map
// via the service's response_binding, or returns the decoded body verbatim
// if none is declared.
func (c *AiClient) Service(ctx context.Context, providerID, serviceID string) (map[string]interface{}, error) {
	c.mu.RLock()
	m, ok := c.manifests[providerID]
	cred := c.credentials[providerID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrManifestNotFound, providerID)
	}
	svc, ok := m.Services[serviceID]
	if !ok {
		return nil, fmt.Errorf("client: provider %s declares no service %q", providerID, serviceID)
	}

	clientRequestID := uuid.NewString()
	release, err := c.policy.Admit(ctx, providerID, serviceID)
	if err != nil {
		return nil, classifyAdmitErr(err, m, clientRequestID)
	}
	defer release()

	headers, queryParam, queryValue := transport.BuildAuthHeaders(m.Auth, cred.Expose())
	url := buildURL(m.EffectiveBaseURL(svc.Endpoint)+svc.Endpoint.Path, queryParam, queryValue)

	resp, err := c.transport.Do(ctx, transport.Request{
		Method:          svc.Endpoint.Method,
		URL:             url,
		Headers:         headers,
		ClientRequestID: clientRequestID,
	})
	if err != nil {
		aiErr := classifyTransportErr(err, m, clientRequestID)
		c.policy.RecordOutcome(providerID, serviceID, aiErr)
		return nil, aiErr
	}

	c.policy.AdjustRateLimit(providerID, resp.Headers, m.RateLimitHeaders)
	if resp.StatusCode >= 400 {
		aiErr := classifyHTTPErr(resp, m, clientRequestID)
		c.policy.RecordOutcome(providerID, serviceID, aiErr)
		return nil, aiErr
	}
	c.policy.RecordOutcome(providerID, serviceID, nil)

	return bindServiceResponse(resp.Body, svc.ResponseBinding), nil
}

// bindServiceResponse extracts each declared field's jsonpath out of body.
// With no binding declared, it decodes body as a plain JSON object instead,
// since most list_models-shaped responses are already close enough to the
// unified shape to pass through.
func bindServiceResponse(body []byte, binding map[string]string) map[string]interface{} {
	if len(binding) == 0 {
		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err != nil {
			return map[string]interface{}{}
		}
		return raw
	}
	out := make(map[string]interface{}, len(binding))
	for field, path := range binding {
		out[field] = gjson.GetBytes(body, path).Value()
	}
	return out
}
