// Package replayclient is a thin HTTP client for the kafka-replay-buffer
// API. Consumers hand it the cursors they have reached and get back every
// buffered message past them, together with gap and discovery information.
package replayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config configures the replay client.
type Config struct {
	// BaseURL is the root of the replay buffer API, e.g. "http://localhost:8080".
	BaseURL string

	// HTTPClient overrides the client used for requests. Defaults to one
	// with the configured Timeout.
	HTTPClient *http.Client

	// Timeout for API requests. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to one replay buffer instance.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a replay client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("replayclient: BaseURL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: cfg.BaseURL, httpc: httpc}, nil
}

// Message is one replayed message with its cursor position.
type Message struct {
	Data      []byte `json:"data"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// PartitionReplay is the result of a partition-cursor replay.
type PartitionReplay struct {
	Messages []Message `json:"messages"`
	// Gaps maps a partition to the number of offsets missing between the
	// supplied cursor and the first replayed message.
	Gaps map[int32]int64 `json:"gaps,omitempty"`
	// NewPartitions lists partitions the server knows that the cursor map
	// did not mention; they are replayed from the beginning.
	NewPartitions []int32 `json:"new_partitions,omitempty"`
	// MoreData lists partitions with more buffered data than one response
	// carries; advance the cursors and call again.
	MoreData []int32 `json:"more_data,omitempty"`
}

// ThreadReplay is the result of a thread-cursor replay.
type ThreadReplay struct {
	Messages []Message         `json:"messages"`
	Gaps     map[string]uint64 `json:"gaps,omitempty"`
}

// MetricsSnapshot mirrors the server's counter snapshot.
type MetricsSnapshot struct {
	MemoryHits    int64 `json:"memory_hits"`
	DurableHits   int64 `json:"durable_hits"`
	DurableMisses int64 `json:"durable_misses"`
	WritesDropped int64 `json:"writes_dropped"`
	WriteFailures int64 `json:"write_failures"`
	MemorySize    int64 `json:"memory_size"`
}

// ReplayPartitions returns every buffered message after the supplied
// per-partition cursors. A cursor is the last offset already consumed; use
// -1 to replay a partition from the beginning.
func (c *Client) ReplayPartitions(ctx context.Context, cursors map[int32]int64) (*PartitionReplay, error) {
	var out PartitionReplay
	err := c.do(ctx, http.MethodPost, "/v1/replay/partitions",
		map[string]interface{}{"cursors": cursors}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReplayThreads returns every buffered message after the supplied per-thread
// sequence cursors.
func (c *Client) ReplayThreads(ctx context.Context, cursors map[string]uint64) (*ThreadReplay, error) {
	var out ThreadReplay
	err := c.do(ctx, http.MethodPost, "/v1/replay/threads",
		map[string]interface{}{"cursors": cursors}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// KnownPartitions lists every partition the buffer holds data for.
func (c *Client) KnownPartitions(ctx context.Context) ([]int32, error) {
	var out struct {
		Partitions []int32 `json:"partitions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/partitions", nil, &out); err != nil {
		return nil, err
	}
	return out.Partitions, nil
}

// LatestOffsets reports the highest buffered offset per partition.
func (c *Client) LatestOffsets(ctx context.Context) (map[int32]int64, error) {
	var out struct {
		LatestOffsets map[int32]int64 `json:"latest_offsets"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/offsets/latest", nil, &out); err != nil {
		return nil, err
	}
	return out.LatestOffsets, nil
}

// StaleCursors reports which of the supplied cursors point below the oldest
// buffered offset, meaning a replay from them will have a gap.
func (c *Client) StaleCursors(ctx context.Context, cursors map[int32]int64) ([]int32, error) {
	var out struct {
		StalePartitions []int32 `json:"stale_partitions"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/cursors/stale",
		map[string]interface{}{"cursors": cursors}, &out)
	if err != nil {
		return nil, err
	}
	return out.StalePartitions, nil
}

// Snapshot fetches the server's counter snapshot.
func (c *Client) Snapshot(ctx context.Context) (*MetricsSnapshot, error) {
	var out MetricsSnapshot
	if err := c.do(ctx, http.MethodGet, "/v1/metrics/snapshot", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear empties both buffer tiers and returns the number of durable entries
// removed.
func (c *Client) Clear(ctx context.Context) (int64, error) {
	var out struct {
		DurableDeleted int64 `json:"durable_deleted"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.DurableDeleted, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("replayclient: encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("replayclient: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("replayclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("replayclient: decoding response: %w", err)
		}
	}
	return nil
}
