package memory

import (
	"context"
	"testing"
	"time"

	"finboard/internal/core"
	"finboard/internal/sheets"
)

func TestStoreAppendIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	row := sheets.Row{MessageID: "m1", Date: time.Now(), Type: core.Expense, Category: "Food", Amount: 12}

	ref, err := s.AppendTransaction(ctx, row)
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	ref, err = s.AppendTransaction(ctx, row)
	if err != nil || ref != "mem:1" {
		t.Fatalf("duplicate append: ref=%q err=%v", ref, err)
	}
	if _, err := s.AppendTransaction(ctx, sheets.Row{MessageID: "m2"}); err != nil {
		t.Fatal(err)
	}

	rows, _ := s.ListTransactions(ctx)
	if len(rows) != 2 || rows[0].Category != "Food" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestStoreRejectsMissingID(t *testing.T) {
	if _, err := New().AppendTransaction(context.Background(), sheets.Row{}); err == nil {
		t.Fatal("expected error for row without message id")
	}
}
