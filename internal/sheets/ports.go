package sheets

import (
	"context"
	"math"
	"strconv"
	"time"

	"finboard/internal/core"
)

// Row is one mirrored transaction.
type Row struct {
	MessageID   string
	Date        time.Time
	Type        core.TxType
	Category    string
	Description string
	Amount      float64
}

// Ports for outbound adapters.
type (
	// TransactionAppender writes one row per created transaction. Appending a
	// row whose MessageID is already present is a no-op.
	TransactionAppender interface {
		AppendTransaction(ctx context.Context, r Row) (rowRef string, err error)
	}

	// TransactionLister reads the mirrored rows back.
	TransactionLister interface {
		ListTransactions(ctx context.Context) ([]Row, error)
	}
)

// Cells renders r in sheet column order: date, type, category, description,
// amount, message id. A non-finite amount is left blank.
func (r Row) Cells(loc *time.Location) []any {
	if loc == nil {
		loc = time.UTC
	}
	amount := ""
	if !math.IsNaN(r.Amount) && !math.IsInf(r.Amount, 0) {
		amount = strconv.FormatFloat(r.Amount, 'f', -1, 64)
	}
	return []any{
		r.Date.In(loc).Format("2006-01-02 15:04"),
		string(r.Type),
		r.Category,
		r.Description,
		amount,
		r.MessageID,
	}
}
