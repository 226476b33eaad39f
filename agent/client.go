package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saverelay/saverelay/pkg/core"
)

// Client talks to the SaveRelay dispatch API on behalf of a worker
// process.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a dispatch API client for the given base URL
// (e.g. "http://localhost:8080/api/v1").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Operation is one assigned unit of work returned by a poll.
type Operation struct {
	OperationID string             `json:"operation_id"`
	Kind        core.OperationKind `json:"kind"`
	Payload     json.RawMessage    `json:"payload"`
}

// Register binds this worker to the user's session.
func (c *Client) Register(ctx context.Context, userID, clientID string) error {
	return c.post(ctx, "/worker/register", map[string]string{
		"user_id":   userID,
		"client_id": clientID,
	}, nil)
}

// Heartbeat refreshes the worker's last_seen timestamp.
func (c *Client) Heartbeat(ctx context.Context, clientID string) error {
	return c.post(ctx, "/worker/heartbeat", map[string]string{"client_id": clientID}, nil)
}

// Poll fetches newly assigned operations, claiming them.
func (c *Client) Poll(ctx context.Context, clientID string) ([]Operation, error) {
	var ops []Operation
	err := c.post(ctx, "/worker/poll", map[string]string{"client_id": clientID}, &ops)
	return ops, err
}

// ReportProgress sends an advisory progress update.
func (c *Client) ReportProgress(ctx context.Context, operationID string, p core.Progress) error {
	return c.post(ctx, "/operations/"+operationID+"/progress", map[string]any{
		"current": p.Current,
		"total":   p.Total,
		"message": p.Message,
	}, nil)
}

// ReportCompletion sends the final success or failure report.
func (c *Client) ReportCompletion(ctx context.Context, operationID string, success bool, resultData []byte, errMsg string) error {
	body := map[string]any{"success": success}
	if success {
		if len(resultData) > 0 {
			body["result_data"] = json.RawMessage(resultData)
		}
	} else {
		body["error_message"] = errMsg
	}
	return c.post(ctx, "/operations/"+operationID+"/complete", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent: %s %s: status %d: %s", http.MethodPost, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
