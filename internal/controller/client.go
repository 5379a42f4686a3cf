package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sloanware/latchline-core/internal/infrastructure/config"
)

// Client call constants.
const (
	// validatePath is the validation endpoint on the service.
	validatePath = "/api/v1/access/validate"

	// defaultValidateTimeout bounds one validation round trip. The
	// requester is standing at the door; a slow answer is a bad answer.
	defaultValidateTimeout = 3 * time.Second

	// maxResponseBytes caps the decoded response body.
	maxResponseBytes = 4 << 10 // 4KB
)

// ErrValidateFailed is returned when the validation call did not yield
// a decision. The controller maps it to a server_error deny.
var ErrValidateFailed = errors.New("controller: validation call failed")

// Client is the HTTP client for the validation service.
//
// The base URL starts from static configuration and may be replaced at
// runtime by the MQTT discovery announce, so controllers work without
// knowing the service address in advance.
type Client struct {
	httpClient *http.Client

	baseURL string
	urlMu   sync.RWMutex

	logger Logger
}

var _ DecisionClient = (*Client)(nil)

// NewClient creates a validation client from controller configuration.
// A nil logger discards output.
func NewClient(cfg config.ValidatorConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultValidateTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger,
	}
}

// BaseURL returns the current validation service base URL.
func (c *Client) BaseURL() string {
	c.urlMu.RLock()
	defer c.urlMu.RUnlock()
	return c.baseURL
}

// SetBaseURL replaces the validation service base URL. Called by the
// MQTT source when a discovery announce arrives. Empty values are
// ignored so a malformed announce cannot blind the controller.
func (c *Client) SetBaseURL(u string) {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" {
		return
	}

	c.urlMu.Lock()
	changed := u != c.baseURL
	c.baseURL = u
	c.urlMu.Unlock()

	if changed {
		c.logger.Info("validator endpoint updated", "base_url", u)
	}
}

// Validate relays an attempt to the validation service and returns its
// decision. Any transport failure, non-200 status, or undecodable body
// returns an error wrapping ErrValidateFailed; the caller treats that
// as "no decision obtained", never as a grant.
func (c *Client) Validate(ctx context.Context, req ValidationRequest) (DecisionResponse, error) {
	base := c.BaseURL()
	if base == "" {
		return DecisionResponse{}, fmt.Errorf("%w: no endpoint configured or discovered", ErrValidateFailed)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: encode request: %w", ErrValidateFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+validatePath, bytes.NewReader(body))
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: build request: %w", ErrValidateFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: %w", ErrValidateFailed, err)
	}
	defer httpResp.Body.Close() //nolint:errcheck // best-effort close

	if httpResp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused, then fail. Decided
		// outcomes always travel as 200; anything else is infra trouble.
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxResponseBytes))
		return DecisionResponse{}, fmt.Errorf("%w: unexpected status %d", ErrValidateFailed, httpResp.StatusCode)
	}

	var resp DecisionResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxResponseBytes)).Decode(&resp); err != nil {
		return DecisionResponse{}, fmt.Errorf("%w: decode response: %w", ErrValidateFailed, err)
	}

	return resp, nil
}
