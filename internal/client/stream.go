// ABOUTME: Follows the gateway's Server-Sent Event stream
// ABOUTME: Parses SSE frames into event responses and hands them to a callback

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/2389/pulsar-gateway/internal/gateway"
)

// ErrStopStream can be returned by a StreamEvents callback to end the stream
// without an error.
var ErrStopStream = errors.New("stop stream")

// StreamEvents follows events committed after the stream opens until ctx is
// cancelled, the server closes the stream or onEvent returns an error. With
// q.Replay set, stored events past q.After are delivered first.
func (c *Client) StreamEvents(ctx context.Context, q EventQuery, onEvent func(gateway.EventResponse) error) error {
	v := q.values()
	v.Del("after")
	if q.Replay {
		v.Set("after", strconv.FormatInt(q.After, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events/stream?"+v.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any request timeout on the shared client.
	hc := &http.Client{Transport: c.http.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	err = parseSSEStream(ctx, resp.Body, onEvent)
	if errors.Is(err, ErrStopStream) {
		return nil
	}
	return err
}

// parseSSEStream reads frames from body. Comment lines are heartbeats.
func parseSSEStream(ctx context.Context, body io.Reader, onEvent func(gateway.EventResponse) error) error {
	scanner := bufio.NewScanner(body)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if eventType != "" && len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				if eventType == "error" {
					var errResp gateway.ErrorResponse
					if json.Unmarshal([]byte(data), &errResp) == nil {
						return fmt.Errorf("stream error: %s", errResp.Error)
					}
					return fmt.Errorf("stream error: %s", data)
				}

				var ev gateway.EventResponse
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					return fmt.Errorf("decoding %s event: %w", eventType, err)
				}
				if err := onEvent(ev); err != nil {
					return err
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading SSE stream: %w", err)
	}
	return nil
}
