package core

import "time"

// Snapshot is one consistent read of the finance API.
type Snapshot struct {
	Transactions []Transaction
	Summary      Summary
	Budgets      []BudgetStatus
	LoadedAt     time.Time
}

// Submission records one attempt to create a transaction.
type Submission struct {
	Payload     Payload
	Created     bool
	Error       string
	SubmittedAt time.Time
}
