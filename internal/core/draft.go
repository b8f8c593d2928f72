package core

import (
	"fmt"
	"time"
)

// Draft is the unsaved transaction held by the entry form. Every field stays
// a raw string until submission.
type Draft struct {
	Amount      string
	Category    string
	Type        TxType
	Description string
}

// Payload is the body of a create request.
type Payload struct {
	Amount      Amount `json:"amount"`
	Category    string `json:"category"`
	Type        TxType `json:"type"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

// EmptyDraft is the state the form starts in and returns to after a
// successful submission.
func EmptyDraft() Draft {
	return Draft{Type: Expense}
}

// Set updates one field by its form name. Values are stored verbatim; only
// type is constrained.
func (d Draft) Set(name, value string) (Draft, error) {
	switch name {
	case "amount":
		d.Amount = value
	case "category":
		d.Category = value
	case "description":
		d.Description = value
	case "type":
		t, err := ParseTxType(value)
		if err != nil {
			return d, err
		}
		d.Type = t
	default:
		return d, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return d, nil
}

// Payload builds the create request for the draft, stamped with now.
// The amount is parsed permissively: unparseable input becomes NaN and is
// still sent.
func (d Draft) Payload(now time.Time) Payload {
	typ := d.Type
	if typ == "" {
		typ = Expense
	}
	return Payload{
		Amount:      Amount(ParseAmount(d.Amount)),
		Category:    d.Category,
		Type:        typ,
		Description: d.Description,
		Date:        FormatISO(now),
	}
}

// FormatISO renders t in UTC with millisecond precision, e.g.
// "2024-04-01T09:30:00.000Z".
func FormatISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
