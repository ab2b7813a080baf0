package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layer-3/tollgate/ports"
)

const maxImageBytes = 16 << 20

// Upstream forwards prompts to a hosted inference endpoint that answers with
// raw image bytes.
type Upstream struct {
	url    string
	token  string
	client *http.Client
}

var _ ports.Generator = (*Upstream)(nil)

// NewUpstream creates a generator posting to url with a bearer token
func NewUpstream(url, token string, timeout time.Duration) *Upstream {
	return &Upstream{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type upstreamRequest struct {
	Inputs  string          `json:"inputs"`
	Options upstreamOptions `json:"options"`
}

type upstreamOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// Generate implements ports.Generator. A loading or rate limited upstream
// degrades to a placeholder result instead of an error.
func (u *Upstream) Generate(ctx context.Context, prompt string) (*ports.GenerationResult, error) {
	body, err := json.Marshal(upstreamRequest{
		Inputs:  prompt,
		Options: upstreamOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter == "" {
			retryAfter = "20"
		}
		return &ports.GenerationResult{
			IsPlaceholder: true,
			Message:       "Model is loading or rate limited. Please try again in a moment.",
			RetryAfter:    retryAfter,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("generator responded with %d: %s", resp.StatusCode, msg)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(image) > maxImageBytes {
		return nil, fmt.Errorf("generator image exceeds %d bytes", maxImageBytes)
	}

	return &ports.GenerationResult{
		Image:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
		Prompt: prompt,
	}, nil
}
