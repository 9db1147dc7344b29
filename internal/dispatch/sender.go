package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hookflow/hookflow/internal/signing"
)

const (
	userAgent       = "Hookflow/1.0"
	maxResponseBody = 1024
)

type SendResult struct {
	StatusCode   int
	ResponseBody string
	LatencyMs    int64
	Error        string
}

// Delivered reports whether the subscriber acknowledged with a 2xx.
func (r *SendResult) Delivered() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

// Sender issues one signed webhook POST with a hard client-side timeout.
// Timeout expiry is the only termination signal for an in-flight send.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts body to url. The body must be the stored payload snapshot so
// the signature matches what was recorded at dispatch time.
func (s *Sender) Send(ctx context.Context, url, secret, eventType, attemptID string, body []byte) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Hookflow-Event", eventType)
	req.Header.Set("X-Hookflow-Delivery", attemptID)
	req.Header.Set("X-Hookflow-Signature", signing.Sign(secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(excerpt),
		LatencyMs:    time.Since(start).Milliseconds(),
	}
}
