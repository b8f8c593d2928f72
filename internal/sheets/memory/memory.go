// Package memory is an in-process TransactionAppender for tests and for
// running the worker without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"finboard/internal/sheets"
)

type Store struct {
	mu    sync.Mutex
	rows  []sheets.Row
	index map[string]int
}

var (
	_ sheets.TransactionAppender = (*Store)(nil)
	_ sheets.TransactionLister   = (*Store)(nil)
)

func New() *Store {
	return &Store{index: make(map[string]int)}
}

// AppendTransaction stores r and returns a synthetic row reference.
func (s *Store) AppendTransaction(_ context.Context, r sheets.Row) (string, error) {
	if r.MessageID == "" {
		return "", fmt.Errorf("row without message id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[r.MessageID]; ok {
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	s.rows = append(s.rows, r)
	s.index[r.MessageID] = len(s.rows) - 1
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// ListTransactions returns a copy of the stored rows in append order.
func (s *Store) ListTransactions(_ context.Context) ([]sheets.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Row(nil), s.rows...), nil
}
