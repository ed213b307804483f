// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trigger

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/cachepush/lib/codec"
)

const (
	dialTimeout = 2 * time.Second

	// defaultExchangeTimeout applies when ctx has no deadline.
	defaultExchangeTimeout = 30 * time.Second

	// maxResponseSize matches the server's request bound.
	maxResponseSize = 1 << 20
)

// RemoteError is an {ok: false} response.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent rejected %q: %s", e.Action, e.Message)
}

// Client sends requests to an agent's trigger socket. Each call uses
// a fresh connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends fields plus "action" and decodes the response data into
// result when both are non-nil. The deadline of ctx bounds the whole
// exchange.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &RemoteError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// NotifyBuild sends a build-complete event.
func (c *Client) NotifyBuild(ctx context.Context, derivation string, outputs []string) (BuildCompleteResult, error) {
	var result BuildCompleteResult
	err := c.Call(ctx, ActionBuildComplete, map[string]any{
		"derivation": derivation,
		"outputs":    outputs,
	}, &result)
	return result, err
}

// Replay asks the agent to re-enqueue dead-lettered jobs.
func (c *Client) Replay(ctx context.Context, request Replay) (ReplayResult, error) {
	var result ReplayResult
	err := c.Call(ctx, ActionReplay, map[string]any{
		"cache": request.Cache,
		"limit": request.Limit,
	}, &result)
	return result, err
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if _, ok := ctx.Deadline(); !ok {
		conn.SetDeadline(time.Now().Add(defaultExchangeTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reading response: %w", ctx.Err())
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
