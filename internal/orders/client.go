package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/domain"
)

// Client places orders through the orders service. It satisfies
// checkout.Placer.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ checkout.Placer = (*Client)(nil)

func NewClient(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		client:  client,
	}
}

// Place posts req and returns the issued order number. A 4xx answer means
// the order itself was refused and is not worth retrying as is.
func (c *Client) Place(ctx context.Context, req checkout.OrderRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusCreated:
		var order domain.Order
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return "", fmt.Errorf("decode order: %w", err)
		}
		return order.Number, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", &checkout.PlacementError{Reason: errorMessage(resp)}
	default:
		return "", &checkout.PlacementError{
			Reason:    fmt.Sprintf("orders service returned status %d", resp.StatusCode),
			Retryable: true,
		}
	}
}

func errorMessage(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return fmt.Sprintf("orders service returned status %d", resp.StatusCode)
	}
	return body.Error
}
