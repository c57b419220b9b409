// Package embedder turns text into dense vectors through an external
// embedding service. Backends talk to OpenAI, Azure OpenAI and Ollama over
// plain HTTP and to Gemini through the genai SDK; Gateway wraps any backend
// with batching, bounded parallelism, a per-call timeout and result checks.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a failed response body is read for the error.
const maxErrorBody = 4 << 10

// jsonCall describes one JSON POST to an embedding endpoint.
type jsonCall struct {
	// client sends the request.
	client *http.Client
	// url is the full endpoint URL.
	url string
	// header holds extra request headers such as credentials.
	header http.Header
	// errorMessage extracts the service's own message from a failed response
	// body, or returns "" when the body carries none.
	errorMessage func(raw []byte) string
}

// postJSON marshals in, posts it and decodes a 2xx reply into out. Non-2xx
// replies become "HTTP <code>[: <service message>]" errors.
func postJSON(ctx context.Context, call jsonCall, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range call.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := call.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if call.errorMessage != nil {
			if msg := call.errorMessage(raw); msg != "" {
				return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
			}
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
