package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"skald/api/consul"
	"skald/api/model"
	"skald/api/saga"
	"skald/api/validate"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
}

// Started is the answer to an asynchronous deploy or rollback.
type Started struct {
	SagaID    string `json:"sagaId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

type CleanupResult struct {
	SagaID   string   `json:"sagaId"`
	Removed  []string `json:"removed"`
	Warnings []string `json:"warnings"`
}

// Target addresses one service stage; an empty Region uses the server default.
type Target struct {
	Service string
	Stage   string
	Region  string
}

func (t Target) path(suffix string) string {
	p := "/api/services/" + url.PathEscape(t.Service) + "/" + url.PathEscape(t.Stage) + "/" + suffix
	if t.Region != "" {
		p += "?region=" + url.QueryEscape(t.Region)
	}
	return p
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Version() (string, error) {
	var v map[string]string
	if err := c.get("/api/version", &v); err != nil {
		return "", err
	}
	return v["version"], nil
}

func (c *Client) ListServices() ([]model.Manifest, error) {
	var ms []model.Manifest
	if err := c.get("/api/services", &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (c *Client) ListDeployments(t Target) ([]model.Deployment, error) {
	var ds []model.Deployment
	if err := c.get(t.path("deployments"), &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (c *Client) Current(t Target) (*consul.Release, error) {
	var r consul.Release
	if err := c.get(t.path("current"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Validate(t Target) (*validate.Result, error) {
	var r validate.Result
	if err := c.get(t.path("validate"), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Deploy(t Target) (*Started, error) {
	var s Started
	if err := c.post(t.path("deploy"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Rollback(t Target, timestamp string) (*Started, error) {
	var s Started
	if err := c.post(t.path("rollback"), map[string]string{"timestamp": timestamp}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Cleanup(t Target, keep *int) (*CleanupResult, error) {
	var r CleanupResult
	if err := c.post(t.path("cleanup"), map[string]*int{"keep": keep}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetSagaEvents(sagaID string) ([]saga.Event, error) {
	var events []saga.Event
	if err := c.get("/api/saga/"+url.PathEscape(sagaID), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) ListRecentSaga(target string, limit int) ([]saga.Event, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if target != "" {
		q.Set("target", target)
	}
	var events []saga.Event
	if err := c.get("/api/saga?"+q.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

type InvocationQuery struct {
	Service string
	Stage   string
	Kind    string
	Limit   int
}

func (c *Client) ListInvocations(f InvocationQuery) ([]model.Invocation, error) {
	q := url.Values{}
	for k, v := range map[string]string{"service": f.Service, "stage": f.Stage, "kind": f.Kind} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	var invs []model.Invocation
	if err := c.get("/api/invocations?"+q.Encode(), &invs); err != nil {
		return nil, err
	}
	return invs, nil
}

// WebSocketURL returns the event stream endpoint, narrowed to one saga
// when sagaID is set.
func (c *Client) WebSocketURL(sagaID string) string {
	u := c.BaseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += "/ws"
	if sagaID != "" {
		u += "?saga=" + url.QueryEscape(sagaID)
	}
	return u
}

func (c *Client) do(method, path string, body any, v any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return &Error{Status: resp.StatusCode, Message: apiErr.Error}
		}
		return &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

func (c *Client) post(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}
