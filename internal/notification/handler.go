// Package notification e-mails shoppers when their order has been placed.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ConfirmationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewConfirmationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle consumes an order.placed payload. Undecodable events are reported
// as permanent failures; a failing e-mail service is not.
func (h *ConfirmationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal order placed event: %w", err))
	}
	if event.Email == "" {
		return messaging.Permanent(errors.New("order placed event has no email"))
	}

	h.logger.Info("processing order placed event", "order_id", event.OrderID, "order_number", event.OrderNumber)

	if err := h.sendEmail(ctx, confirmationEmail(event)); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_number", event.OrderNumber)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("confirmation email sent", "order_number", event.OrderNumber)
	return nil
}

func confirmationEmail(event domain.OrderPlacedEvent) email {
	items := "items"
	if event.ItemCount == 1 {
		items = "item"
	}
	return email{
		To:      event.Email,
		Subject: "Order Confirmation: " + event.OrderNumber,
		Body: fmt.Sprintf("Your order %s has been confirmed with %d %s for a total of $%s.",
			event.OrderNumber, event.ItemCount, items, event.Total.StringFixed(2)),
	}
}

func (h *ConfirmationHandler) sendEmail(ctx context.Context, msg email) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
