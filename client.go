package tollgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/tollgate/core"
	"github.com/layer-3/tollgate/ports"
)

const (
	headerContentType   = "Content-Type"
	headerPayment       = "X-PAYMENT"
	mimeApplicationJSON = "application/json"
)

// Accept is one payment option of a 402 challenge
type Accept struct {
	Chain     core.Chain `json:"chain"`
	Token     string     `json:"token"`
	Recipient string     `json:"recipient"`
	Amount    string     `json:"amount"`
	Nonce     string     `json:"nonce"`
	Expires   int64      `json:"expires"`
}

// Grant is the license handed out for a verified payment
type Grant struct {
	License        string `json:"license"`
	ExpiresIn      int64  `json:"expires_in"`
	AllowInference bool   `json:"allow_inference"`
	Message        string `json:"message"`
}

// Client talks to a tollgate server over HTTP
type Client struct {
	URL        string
	HTTPClient *http.Client
}

var _ Gate = (*Client)(nil)

// NewClient creates a new client for the server at url
func NewClient(url string) *Client {
	return &Client{
		URL:        strings.TrimRight(url, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Challenge requests payment options without a proof
func (c *Client) Challenge(ctx context.Context) ([]Accept, error) {
	resp, err := c.post(ctx, "/api/generate", struct{}{}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, statusError(ErrUnexpectedStatus, resp)
	}

	var body struct {
		Accepts []Accept `json:"accepts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	return body.Accepts, nil
}

// Redeem submits a proof in the X-PAYMENT header
func (c *Client) Redeem(ctx context.Context, proof core.PaymentProof) (*Grant, error) {
	header, err := json.Marshal(proof)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof: %w", err)
	}

	resp, err := c.post(ctx, "/api/generate", struct{}{}, map[string]string{headerPayment: string(header)})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ErrPaymentRejected, resp)
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode license: %w", err)
	}

	return &grant, nil
}

// GenerateImage spends license on a single generation
func (c *Client) GenerateImage(ctx context.Context, license, prompt string) (*ports.GenerationResult, error) {
	headers := map[string]string{"Authorization": "Bearer " + license}

	resp, err := c.post(ctx, "/api/generate-image", map[string]string{"prompt": prompt}, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, statusError(ErrLicenseRejected, resp)
	default:
		return nil, statusError(ErrUnexpectedStatus, resp)
	}

	var result ports.GenerationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode generation result: %w", err)
	}

	return &result, nil
}

// Buy runs the whole payment flow with payer and returns the license grant
func (c *Client) Buy(ctx context.Context, payer Payer) (*Grant, error) {
	accepts, err := c.Challenge(ctx)
	if err != nil {
		return nil, err
	}

	var accept *Accept
	for i := range accepts {
		if accepts[i].Chain == payer.Chain() {
			accept = &accepts[i]
			break
		}
	}
	if accept == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAcceptableOption, payer.Chain())
	}

	ref, err := payer.Pay(ctx, *accept)
	if err != nil {
		return nil, fmt.Errorf("failed to pay: %w", err)
	}

	proof := core.PaymentProof{
		Chain: string(accept.Chain),
		Token: accept.Token,
		Nonce: accept.Nonce,
	}
	if accept.Chain == core.ChainSolana {
		proof.Signature = ref
	} else {
		proof.Tx = ref
	}

	return c.Redeem(ctx, proof)
}

func (c *Client) post(ctx context.Context, path string, body any, headers map[string]string) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// statusError wraps sentinel with the status and the server's error message
func statusError(sentinel error, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Errorf("%w: %s: %s", sentinel, resp.Status, body.Error)
	}
	return fmt.Errorf("%w: %s", sentinel, resp.Status)
}
