// Package rest implements the agent backend client over its HTTP API.
//
// Sessions are created and prompted with plain JSON calls; live progress
// arrives on a single server-sent-event stream shared by all sessions.
package rest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/threadrelay/threadrelay/agent"
)

// Client talks to the agent backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a backend client for the given base URL (e.g.
// "http://127.0.0.1:4096").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: SendPrompt calls legitimately run for minutes
		// and Events is a long-lived stream. Cancellation comes from ctx.
		http: &http.Client{},
	}
}

type createSessionRequest struct {
	Directory string `json:"directory"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

// CreateSession creates a new backend session rooted at directory.
func (c *Client) CreateSession(ctx context.Context, directory string) (string, error) {
	var out createSessionResponse
	err := c.doJSON(ctx, http.MethodPost, "/session", createSessionRequest{Directory: directory}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("backend returned empty session id")
	}
	return out.ID, nil
}

// SessionExists reports whether the backend still recognizes sessionID.
func (c *Client) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/"+sessionID, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking session: unexpected status %d", resp.StatusCode)
	}
}

// SendPrompt runs one prompt to completion.
func (c *Client) SendPrompt(ctx context.Context, req agent.PromptRequest) (*agent.PromptResponse, error) {
	var out agent.PromptResponse
	path := "/session/" + req.SessionID + "/message"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type abortRequest struct {
	Directory string `json:"directory,omitempty"`
}

// Abort requests backend-side cancellation of the session's current work.
func (c *Client) Abort(ctx context.Context, sessionID, directory string) error {
	return c.doJSON(ctx, http.MethodPost, "/session/"+sessionID+"/abort", abortRequest{Directory: directory}, nil)
}

type permissionReplyRequest struct {
	Reply string `json:"reply"`
}

// PermissionReply answers a permission request.
func (c *Client) PermissionReply(ctx context.Context, requestID, reply string) error {
	return c.doJSON(ctx, http.MethodPost, "/permission/"+requestID, permissionReplyRequest{Reply: reply}, nil)
}

// Events opens the backend's SSE stream. The returned channel closes when ctx
// is canceled or the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan agent.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("opening event stream: unexpected status %d", resp.StatusCode)
	}

	ch := make(chan agent.Event, 64)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "" {
				continue
			}
			ev, err := agent.ParseEvent([]byte(payload))
			if err != nil {
				log.Printf("agent: dropping malformed stream event: %v", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Printf("agent: event stream read error: %v", err)
		}
	}()

	return ch, nil
}

// doJSON performs one JSON request/response round trip. A nil out discards
// the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s %s: backend error: %s", method, path, msg)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// WaitReady polls the backend until it answers or the deadline passes. Used
// at startup when the backend process is supervised alongside the bridge.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("backend not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

var _ agent.Client = (*Client)(nil)
