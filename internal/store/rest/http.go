package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// StatusError is a response outside the accepted status set.
type StatusError struct {
	Method string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Method, e.Status, e.Body)
}

// sendJSON issues one request with an optional JSON body and returns the raw
// response body. Statuses outside accept become a *StatusError.
func sendJSON(ctx context.Context, client *http.Client, method, url string, body any, headers map[string]string, accept []int, logger *slog.Logger) ([]byte, int, error) {
	reqID := uuid.New().String()
	start := time.Now()

	var rd io.Reader
	var n int
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			logger.Error("store.http.encode_error", "req_id", reqID, "error", err)
			return nil, 0, fmt.Errorf("encode json: %w", err)
		}
		rd, n = bytes.NewReader(bs), len(bs)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("store.http.request", "req_id", reqID, "method", method, "url", url, "content_length", n)

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("store.http.send_error", "req_id", reqID, "method", method, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("store.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	logger.Debug("store.http.response",
		"req_id", reqID,
		"method", method,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	for _, s := range accept {
		if resp.StatusCode == s {
			return raw, resp.StatusCode, nil
		}
	}
	return raw, resp.StatusCode, &StatusError{Method: method, Status: resp.StatusCode, Body: truncate(string(raw), 512)}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
