package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Client submits transfers to a provider's HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      *log.Logger
}

func NewClient(endpoint, apiKey string, logger *log.Logger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      logger.With("component", "rail"),
	}
}

// Submit posts the submission to /transfer/create. A 4xx answer carrying an
// error body is returned as *Rejection; any other failure is a plain error
// and leaves the outcome unknown.
func (c *Client) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/transfer/create", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sub.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit transfer: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Receipt{}, fmt.Errorf("read rail response: %w", err)
	}
	c.log.Debug("rail response", "status", resp.StatusCode, "elapsed", time.Since(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var r Receipt
		if err := json.Unmarshal(payload, &r); err != nil {
			return Receipt{}, fmt.Errorf("decode rail receipt: %w", err)
		}
		if r.TransferID == "" {
			return Receipt{}, fmt.Errorf("rail receipt without transfer id")
		}
		return r, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rej Rejection
		if err := json.Unmarshal(payload, &rej); err == nil && rej.Code != "" {
			return Receipt{}, &rej
		}
		return Receipt{}, &Rejection{Code: http.StatusText(resp.StatusCode), Reason: strings.TrimSpace(string(payload))}
	default:
		return Receipt{}, fmt.Errorf("rail returned %d", resp.StatusCode)
	}
}
