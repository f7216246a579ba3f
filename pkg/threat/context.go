package threat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestContext is an immutable snapshot of one request's security-relevant
// attributes. It is built by the HTTP middleware and owned solely by the
// analysis call that receives it.
type RequestContext struct {
	CorrelationID    uuid.UUID         `json:"correlation_id"`
	IPAddress        string            `json:"ip_address"`
	UserAgent        string            `json:"user_agent,omitempty"`
	APIKeyID         string            `json:"api_key_id,omitempty"`
	TenantID         string            `json:"tenant_id,omitempty"`
	Endpoint         string            `json:"endpoint"`
	Method           string            `json:"method"`
	Timestamp        time.Time         `json:"timestamp"`
	Headers          map[string]string `json:"headers,omitempty"`
	RateLimitKey     string            `json:"rate_limit_key,omitempty"`
	PreviousRequests []PreviousRequest `json:"previous_requests,omitempty"`
}

// PreviousRequest is one entry of the bounded window of an actor's recent
// history carried inside the context.
type PreviousRequest struct {
	Timestamp      time.Time `json:"timestamp"`
	Endpoint       string    `json:"endpoint"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

func NewRequestContext(ipAddress, endpoint, method string) RequestContext {
	return RequestContext{
		CorrelationID: uuid.New(),
		IPAddress:     ipAddress,
		Endpoint:      endpoint,
		Method:        method,
		Timestamp:     time.Now().UTC(),
		Headers:       make(map[string]string),
	}
}

func (c RequestContext) WithUserAgent(ua string) RequestContext {
	c.UserAgent = ua
	return c
}

func (c RequestContext) WithAPIKeyID(id string) RequestContext {
	c.APIKeyID = id
	return c
}

func (c RequestContext) WithTenantID(id string) RequestContext {
	c.TenantID = id
	return c
}

func (c RequestContext) WithHeader(key, value string) RequestContext {
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	headers[strings.ToLower(key)] = value
	c.Headers = headers
	return c
}

func (c RequestContext) WithRateLimitKey(key string) RequestContext {
	c.RateLimitKey = key
	return c
}

func (c RequestContext) WithPreviousRequests(reqs []PreviousRequest) RequestContext {
	c.PreviousRequests = reqs
	return c
}

// ActorID is the identity behavioral profiles are keyed by: the api-key id
// when authenticated, otherwise the source IP.
func (c RequestContext) ActorID() string {
	if c.APIKeyID != "" {
		return c.APIKeyID
	}
	return c.IPAddress
}

// RequestFrequency returns the actor's requests per minute over the last
// N minutes of the carried history window.
func (c RequestContext) RequestFrequency(minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	recent := 0
	for _, req := range c.PreviousRequests {
		if req.Timestamp.After(cutoff) {
			recent++
		}
	}
	return float64(recent) / float64(minutes)
}

var automationIndicators = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python", "java", "go-http", "okhttp", "axios",
}

// AppearsAutomated applies cheap heuristics: a scripted user agent, a burst
// of requests, or a client that skips the headers browsers always send.
func (c RequestContext) AppearsAutomated() bool {
	if c.UserAgent != "" {
		ua := strings.ToLower(c.UserAgent)
		for _, indicator := range automationIndicators {
			if strings.Contains(ua, indicator) {
				return true
			}
		}
	}

	if c.RequestFrequency(5) > 10.0 {
		return true
	}

	missing := 0
	for _, header := range []string{"accept", "accept-language", "accept-encoding"} {
		if _, ok := c.Headers[header]; !ok {
			missing++
		}
	}
	return missing >= 2
}
