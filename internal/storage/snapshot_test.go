package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finboard/internal/core"
)

func openTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "snapshot.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ts(t *testing.T, s string) core.Timestamp {
	t.Helper()
	v, err := core.ParseTimestamp(s)
	require.NoError(t, err)
	return v
}

func TestLoadSnapshotEmpty(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixed := 800.0
	loadedAt := time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC)

	snap := core.Snapshot{
		Transactions: []core.Transaction{
			{ID: "b", Amount: 20, Category: "Food", Type: core.Expense, Description: "groceries", Date: ts(t, "2024-03-05T12:00:00Z")},
			{ID: "a", Amount: 1000, Category: "Salary", Type: core.Income, Date: ts(t, "2024-03-01T08:00:00")},
			{ID: "c", Amount: 5, Category: "Misc", Type: core.Expense, Date: ts(t, "2024-03-02")},
		},
		Summary:  core.Summary{TotalIncome: 1000, TotalExpense: 25, Balance: 975, FixedIncome: &fixed},
		Budgets:  []core.BudgetStatus{{Category: "Food", Limit: 300, Spent: 20, Remaining: 280}},
		LoadedAt: loadedAt,
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	got, ok, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, got.Transactions, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got.Transactions[0].ID, got.Transactions[1].ID, got.Transactions[2].ID})
	assert.True(t, got.Transactions[1].Date.Floating)
	assert.False(t, got.Transactions[0].Date.Floating)
	assert.True(t, got.Transactions[0].Date.Time.Equal(snap.Transactions[0].Date.Time))
	assert.Equal(t, snap.Summary.TotalExpense, got.Summary.TotalExpense)
	require.NotNil(t, got.Summary.FixedIncome)
	assert.Equal(t, 800.0, *got.Summary.FixedIncome)
	assert.Nil(t, got.Summary.VariableIncome)
	assert.Equal(t, snap.Budgets, got.Budgets)
	assert.True(t, got.LoadedAt.Equal(loadedAt))
}

func TestSaveSnapshotReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := core.Snapshot{Transactions: []core.Transaction{{ID: "1", Type: core.Expense}, {ID: "2", Type: core.Expense}}, LoadedAt: time.Now()}
	require.NoError(t, s.SaveSnapshot(ctx, first))
	second := core.Snapshot{Transactions: []core.Transaction{{ID: "3", Type: core.Income}}, LoadedAt: time.Now()}
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, ok, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, "3", got.Transactions[0].ID)
	assert.True(t, got.Transactions[0].Date.IsZero())
}

func TestSubmissions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)

	ok := core.Draft{Amount: "50.5", Category: "Rent", Type: core.Expense, Description: "April rent"}
	bad := core.Draft{Amount: "abc", Category: "Misc", Type: core.Expense}

	require.NoError(t, s.RecordSubmission(ctx, core.Submission{Payload: ok.Payload(at), Created: true, SubmittedAt: at}))
	require.NoError(t, s.RecordSubmission(ctx, core.Submission{Payload: bad.Payload(at), Error: "status 422", SubmittedAt: at.Add(time.Minute)}))

	subs, err := s.RecentSubmissions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "Misc", subs[0].Payload.Category)
	assert.True(t, subs[0].Payload.Amount.IsNaN())
	assert.False(t, subs[0].Created)
	assert.Equal(t, "status 422", subs[0].Error)

	assert.Equal(t, core.Amount(50.5), subs[1].Payload.Amount)
	assert.True(t, subs[1].Created)
	assert.Equal(t, "2024-04-01T09:30:00.000Z", subs[1].Payload.Date)

	limited, err := s.RecentSubmissions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOpenTwiceKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
