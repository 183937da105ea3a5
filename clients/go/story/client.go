// Package story provides a client for the story orchestrator and worker
// HTTP surfaces.
package story

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chanderbawa/AI-Story-Agents/internal/models"
)

// DefaultURL is the orchestrator address used when none is given.
const DefaultURL = "http://localhost:8080"

// Client talks to one server: the orchestrator or a single worker.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL. Story creation blocks until the
// pipeline finishes, so the HTTP client has no overall timeout; bound calls
// with ctx instead.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("story error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error  string `json:"error"`
			Status string `json:"status"`
		}
		json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = errResp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// CreateStoryRequest is the body of POST /stories.
type CreateStoryRequest struct {
	models.StoryRequest
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// CreateStory submits a story and waits for the pipeline to finish.
func (c *Client) CreateStory(ctx context.Context, req models.StoryRequest, timeout time.Duration) (*models.Result, error) {
	var res models.Result
	err := c.doRequest(ctx, http.MethodPost, "/stories", CreateStoryRequest{
		StoryRequest:   req,
		TimeoutSeconds: timeout.Seconds(),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TaskStatus mirrors the orchestrator's task view.
type TaskStatus struct {
	CorrelationID  string  `json:"correlation_id"`
	Status         string  `json:"status"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	Messages       int     `json:"messages,omitempty"`
	LastSender     string  `json:"last_sender,omitempty"`
	LastReceiver   string  `json:"last_receiver,omitempty"`
}

// TaskStatus looks up a correlation id. Unknown ids return a status of
// "not_found" rather than an error.
func (c *Client) TaskStatus(ctx context.Context, correlationID string) (*TaskStatus, error) {
	var st TaskStatus
	err := c.doRequest(ctx, http.MethodGet, "/tasks/"+url.PathEscape(correlationID), nil, &st)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return &TaskStatus{CorrelationID: correlationID, Status: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// History returns the messages of one conversation in publish order.
func (c *Client) History(ctx context.Context, correlationID string) ([]*models.Message, error) {
	var resp struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/tasks/"+url.PathEscape(correlationID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Message fetches a persisted envelope by id.
func (c *Client) Message(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := c.doRequest(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Check is one health probe.
type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by /health on every server.
type HealthResponse struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Agent       string           `json:"agent,omitempty"`
	AgentStatus string           `json:"agent_status,omitempty"`
	State       string           `json:"state,omitempty"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503 with a body,
// which is returned alongside the error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return &health, &APIError{StatusCode: resp.StatusCode, Message: health.Status}
	}
	return &health, nil
}

// SendRequest is the body of a worker's POST /send.
type SendRequest struct {
	Sender        string         `json:"sender"`
	MessageType   string         `json:"message_type,omitempty"`
	Content       models.Payload `json:"content"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// SendResponse acknowledges an enqueued message.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// Send enqueues a message on a worker. The client must point at the
// worker's own address.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var resp SendResponse
	if err := c.doRequest(ctx, http.MethodPost, "/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
