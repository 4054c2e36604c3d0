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

	"ferry/api/model"
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

type DailyStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

type DeploymentPage struct {
	Deployments []model.Deployment `json:"deployments"`
	Total       int                `json:"total"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

type ProbeResult struct {
	Message       string              `json:"message"`
	Status        string              `json:"status"`
	StatusHistory []model.StatusEntry `json:"statusHistory"`
	StatusCode    int                 `json:"statusCode"`
	StatusText    string              `json:"statusText"`
	Color         string              `json:"color"`
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// APIError is a non-2xx response. Message is the server's "message" field
// when the body carried one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Health() (*HealthStatus, error) {
	var h HealthStatus
	if err := c.get("/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Stats(since time.Time) (*DailyStats, error) {
	var s DailyStats
	path := "/api/stats"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.Format(time.RFC3339))
	}
	if err := c.get(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Deploy blocks until the pipeline finishes. A failed deployment still
// returns the response so its logs can be shown.
func (c *Client) Deploy(req model.DeploymentRequest) (*model.DeployResponse, error) {
	var resp model.DeployResponse
	hc := *c.HTTPClient
	hc.Timeout = 0
	status, err := c.doWith(&hc, http.MethodPost, "/api/deploy", req, &resp)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return &resp, &APIError{StatusCode: status, Message: resp.Message}
	}
	return &resp, nil
}

func (c *Client) Preflight(req model.PreflightRequest) (*model.PreflightReport, error) {
	var rep model.PreflightReport
	if err := c.post("/api/preflight", req, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *Client) ListSourceInstances(req model.SourceRequest) ([]model.SourceInstance, error) {
	var body struct {
		Instances []model.SourceInstance `json:"instances"`
	}
	if err := c.post("/api/source/instances", req, &body); err != nil {
		return nil, err
	}
	return body.Instances, nil
}

func (c *Client) ReadSourceFile(req model.FileRequest) (*model.FileResponse, error) {
	var resp model.FileResponse
	if err := c.post("/api/source/file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListDeployments(domain, status string, limit int) (*DeploymentPage, error) {
	q := url.Values{}
	if domain != "" {
		q.Set("domain", domain)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/deployments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page DeploymentPage
	if err := c.get(path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetDeployment(id string) (*model.Deployment, error) {
	var d model.Deployment
	if err := c.get("/api/deployments/"+url.PathEscape(id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// DeploymentLog returns the stored log as plain text.
func (c *Client) DeploymentLog(id string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/api/deployments/"+url.PathEscape(id)+"/log", nil)
	if err != nil {
		return "", err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return string(data), nil
}

func (c *Client) ListInstances() ([]model.Instance, error) {
	var list []model.Instance
	if err := c.get("/api/instances", &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateInstance(in model.InstanceInput) (*model.Instance, error) {
	var inst model.Instance
	if err := c.post("/api/instances", in, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *Client) DeleteInstance(id string) error {
	return c.delete("/api/instances/" + url.PathEscape(id))
}

func (c *Client) ProbeInstance(id, target string) (*ProbeResult, error) {
	var res ProbeResult
	body := map[string]string{"id": id, "url": target}
	if err := c.post("/api/monitoring", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListServers() ([]model.Server, error) {
	var list []model.Server
	if err := c.get("/api/servers", &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateServer(in model.ServerInput) (*model.Server, error) {
	var s model.Server
	if err := c.post("/api/servers", in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteServer(id string) error {
	return c.delete("/api/servers/" + url.PathEscape(id))
}

func (c *Client) TestServer(id string) (*ConnectionResult, error) {
	var res ConnectionResult
	if err := c.post("/api/servers/test", map[string]string{"id": id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) WebSocketURL() string {
	return c.wsBase() + "/ws"
}

func (c *Client) TerminalURL(serverID string, cols, rows int) string {
	return fmt.Sprintf("%s/api/servers/%s/terminal?cols=%d&rows=%d", c.wsBase(), url.PathEscape(serverID), cols, rows)
}

// AuthHeader is sent with websocket handshakes.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

func (c *Client) wsBase() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base
}

func (c *Client) get(path string, v any) error {
	_, err := c.doWith(c.HTTPClient, http.MethodGet, path, nil, v)
	return err
}

func (c *Client) post(path string, body, v any) error {
	_, err := c.doWith(c.HTTPClient, http.MethodPost, path, body, v)
	return err
}

func (c *Client) delete(path string) error {
	_, err := c.doWith(c.HTTPClient, http.MethodDelete, path, nil, nil)
	return err
}

// doWith sends body as JSON and decodes the response into v. Responses of
// 400 and above become an *APIError unless v is a deploy response, which
// the caller inspects itself.
func (c *Client) doWith(hc *http.Client, method, path string, body, v any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, r)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if _, deploy := v.(*model.DeployResponse); deploy {
		if len(data) > 0 {
			if err := json.Unmarshal(data, v); err != nil {
				return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
			}
		}
		return resp.StatusCode, nil
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if v == nil || len(data) == 0 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.Unmarshal(data, v)
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
