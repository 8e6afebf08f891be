package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/video"
)

// Client talks to an agent
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new agent client
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	tlsConfig, err := config.LoadClientTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS config: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
		Timeout: 60 * time.Second,
	}

	base := "https://" + net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	return NewClientWith(base, httpClient), nil
}

// NewClientWith creates a client for baseURL using httpClient as is
func NewClientWith(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Do sends a request to endpoint and returns the response body. Any status
// other than 200 or 204 is an error carrying the body.
func (c *Client) Do(method, endpoint string, query url.Values) ([]byte, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		var e ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return body, &StatusError{Code: resp.StatusCode, Message: e.Error}
		}
		return body, &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	return body, nil
}

// StatusError is returned for a non-success response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Get fetches an endpoint
func (c *Client) Get(endpoint string) ([]byte, error) {
	return c.Do(http.MethodGet, endpoint, nil)
}

func (c *Client) decode(method, endpoint string, query url.Values, v interface{}) error {
	body, err := c.Do(method, endpoint, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// CheckHealth checks if the agent is healthy
func (c *Client) CheckHealth() error {
	body, err := c.Get("health")
	if err != nil {
		return err
	}
	if string(body) != "OK\n" {
		return fmt.Errorf("unexpected health response: %s", string(body))
	}
	return nil
}

// Timing returns the output stage programming
func (c *Client) Timing() (TimingResponse, error) {
	var resp TimingResponse
	err := c.decode(http.MethodGet, "timing", nil, &resp)
	return resp, err
}

// Source returns the decoded source timing
func (c *Client) Source() (SourceResponse, error) {
	var resp SourceResponse
	err := c.decode(http.MethodGet, "source", nil, &resp)
	return resp, err
}

// Probe retimes the output to the current source
func (c *Client) Probe() (engine.Outcome, error) {
	var o engine.Outcome
	err := c.decode(http.MethodPost, "probe", nil, &o)
	return o, err
}

// SetMode applies a preset
func (c *Client) SetMode(id int) (engine.Outcome, error) {
	var o engine.Outcome
	err := c.decode(http.MethodPost, "mode", url.Values{"id": {strconv.Itoa(id)}}, &o)
	return o, err
}

// Presets lists the presets
func (c *Client) Presets() ([]video.Preset, error) {
	var p []video.Preset
	err := c.decode(http.MethodGet, "mode", nil, &p)
	return p, err
}

// Sync commits the output timing registers. A timeout returns the result
// together with the error.
func (c *Client) Sync() (video.SyncResult, error) {
	var res video.SyncResult
	body, err := c.Do(http.MethodPost, "sync", nil)
	if body != nil {
		_ = json.Unmarshal(body, &res)
	}
	return res, err
}

// SetAutoprobe sets autoprobe, or toggles it when on is nil
func (c *Client) SetAutoprobe(on *bool) (bool, error) {
	q := url.Values{}
	if on != nil {
		q.Set("on", strconv.FormatBool(*on))
	}
	var resp AutoprobeResponse
	err := c.decode(http.MethodPost, "autoprobe", q, &resp)
	return resp.Autoprobe, err
}
