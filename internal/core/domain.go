package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

type (
	// TxType is the direction of a transaction.
	TxType string

	// Timestamp is a transaction date as sent by the finance API.
	//
	// The API emits ISO-8601 strings that may or may not carry an offset.
	// Strings without an offset are "floating": their wall clock is kept and
	// read in whatever zone the dashboard renders with, the way a browser
	// reads them. Date-only strings are UTC midnight.
	Timestamp struct {
		Time     time.Time
		Floating bool
	}

	Transaction struct {
		ID          string    `json:"id"`
		Amount      float64   `json:"amount"`
		Category    string    `json:"category"`
		Type        TxType    `json:"type"`
		Description string    `json:"description"`
		Date        Timestamp `json:"date"`
	}
)

var (
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrUnknownField  = errors.New("unknown draft field")
	ErrInvalidFormat = errors.New("invalid timestamp format")
)

const floatingLayout = "2006-01-02T15:04:05.999999999"

// ParseTxType accepts exactly "income" or "expense".
func ParseTxType(s string) (TxType, error) {
	switch TxType(s) {
	case Income, Expense:
		return TxType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

// NewTimestamp wraps an absolute instant.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp decodes the formats the finance API is known to produce.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	for _, layout := range []string{floatingLayout, "2006-01-02T15:04", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{Time: t, Floating: true}, nil
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		return Timestamp{Time: t}, nil
	}
	return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// In returns the instant as seen from loc. Floating timestamps keep their
// wall clock.
func (t Timestamp) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if t.Floating {
		w := t.Time
		return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
	}
	return t.Time.In(loc)
}

func (t Timestamp) IsZero() bool {
	return t.Time.IsZero()
}

func (t Timestamp) String() string {
	if t.Floating {
		return t.Time.Format(floatingLayout)
	}
	return t.Time.Format(time.RFC3339Nano)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON never fails: a null, non-string or unparseable date decodes
// to the zero Timestamp, which belongs to no month.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t = Timestamp{}
	var s string
	if bytes.Equal(b, []byte("null")) || json.Unmarshal(b, &s) != nil {
		return nil
	}
	if parsed, err := ParseTimestamp(s); err == nil {
		*t = parsed
	}
	return nil
}
