package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/xid"
)

const (
	EventSaleCommitted = "sale.committed"

	producerName = "etalase-backend"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type SaleCommittedPayload struct {
	SaleID          string                  `json:"sale_id"`
	Outlet          domain.OutletScope      `json:"outlet_id"`
	TerminalID      string                  `json:"terminal_id"`
	CashierUsername string                  `json:"cashier_username"`
	PaymentMethod   string                  `json:"payment_method"`
	Subtotal        int64                   `json:"subtotal"`
	Discount        int64                   `json:"discount"`
	Total           int64                   `json:"total"`
	Lines           []domain.SaleLine       `json:"lines"`
	Reductions      []domain.StockReduction `json:"reductions"`
}

// Publisher ships domain events out of process. Publishing is best effort:
// a committed sale stays committed when the event cannot be delivered.
type Publisher interface {
	PublishSaleCommitted(ctx context.Context, sale domain.Sale) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSaleCommitted(_ context.Context, _ domain.Sale) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

// NewSaleCommitted wraps a sale in the event envelope. The sale id is the
// correlation id so consumers can dedupe redeliveries.
func NewSaleCommitted(sale domain.Sale, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(SaleCommittedPayload{
		SaleID:          sale.ID,
		Outlet:          sale.Outlet,
		TerminalID:      sale.TerminalID,
		CashierUsername: sale.CashierUsername,
		PaymentMethod:   sale.PaymentMethod,
		Subtotal:        sale.Subtotal,
		Discount:        sale.Discount,
		Total:           sale.Total,
		Lines:           sale.Lines,
		Reductions:      sale.Reductions,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encode sale payload: %w", err)
	}
	return Envelope{
		EventID:       xid.New("evt"),
		EventType:     EventSaleCommitted,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producerName,
		CorrelationID: sale.ID,
		Payload:       payload,
	}, nil
}
