package selling

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Receipt is the printable summary of a completed sale.
type Receipt struct {
	Number      string        `json:"number"`
	Customer    string        `json:"customer,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
	Lines       []ReceiptLine `json:"lines"`
	Total       string        `json:"total"`
}

// ReceiptLine is one formatted position.
type ReceiptLine struct {
	Item      string `json:"item"`
	Qty       int64  `json:"qty"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

var moneyPrinter = message.NewPrinter(language.English)

func formatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}

// Receipt renders a COMPLETED sale with grouped thousands money formatting.
func (s *Service) Receipt(ctx context.Context, saleID int64) (Receipt, error) {
	sale, lines, err := s.Get(ctx, saleID)
	if err != nil {
		return Receipt{}, err
	}
	if sale.Status != SaleStatusCompleted {
		return Receipt{}, fmt.Errorf("selling: receipt needs a %s sale, got %s: %w",
			SaleStatusCompleted, sale.Status, shared.ErrInvalidState)
	}

	receipt := Receipt{
		Number:   sale.Number,
		Customer: sale.Customer,
		Total:    formatMoney(sale.Total),
	}
	if sale.CompletedAt != nil {
		receipt.CompletedAt = *sale.CompletedAt
	}
	for _, line := range lines {
		name := fmt.Sprintf("item %d", line.ItemID)
		if item, err := s.catalog.GetItem(ctx, line.ItemID); err == nil {
			name = item.Name
		}
		receipt.Lines = append(receipt.Lines, ReceiptLine{
			Item:      name,
			Qty:       line.Qty,
			UnitPrice: formatMoney(line.UnitPrice),
			LineTotal: formatMoney(float64(line.Qty) * line.UnitPrice),
		})
	}
	return receipt, nil
}
