package core

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Palette is reused cyclically for category slices.
var Palette = [...]string{"#334155", "#64748b", "#94a3b8", "#0ea5e9", "#f59e42"}

// Colours of the income vs expense chart.
const (
	IncomeColor  = "#3b82f6"
	ExpenseColor = "#64748b"
)

// Summary holds the totals computed by the finance API over all transactions.
type Summary struct {
	TotalIncome    float64  `json:"total_income"`
	TotalExpense   float64  `json:"total_expense"`
	Balance        float64  `json:"balance"`
	FixedIncome    *float64 `json:"fixed_income,omitempty"`
	VariableIncome *float64 `json:"variable_income,omitempty"`
}

// CategoryTotal is the summed expense amount of one category.
type CategoryTotal struct {
	Name   string
	Amount decimal.Decimal
	Color  string
}

// BudgetStatus is the remote view of one category budget.
type BudgetStatus struct {
	Category  string  `json:"category"`
	Limit     float64 `json:"limit"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
}

// PaletteColor returns the colour of the i-th category slice.
func PaletteColor(i int) string {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}

// FilterByMonth keeps the transactions dated in month (0 = January) as seen
// from loc, preserving input order.
func FilterByMonth(txs []Transaction, month int, loc *time.Location) []Transaction {
	out := make([]Transaction, 0, len(txs))
	if month < 0 || month > 11 {
		return out
	}
	want := time.Month(month + 1)
	for _, t := range txs {
		if t.Date.IsZero() {
			continue
		}
		if t.Date.In(loc).Month() == want {
			out = append(out, t)
		}
	}
	return out
}

// AggregateExpenses sums expense amounts per category. Categories appear in
// the order they are first met and carry their palette colour.
func AggregateExpenses(txs []Transaction) []CategoryTotal {
	var out []CategoryTotal
	index := make(map[string]int)
	for _, t := range txs {
		if t.Type != Expense || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
			continue
		}
		amt := decimal.NewFromFloat(t.Amount)
		if i, ok := index[t.Category]; ok {
			out[i].Amount = out[i].Amount.Add(amt)
			continue
		}
		index[t.Category] = len(out)
		out = append(out, CategoryTotal{Name: t.Category, Amount: amt, Color: PaletteColor(len(out))})
	}
	return out
}

// TotalExpense sums the expense amounts in txs.
func TotalExpense(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if t.Type == Expense && !math.IsNaN(t.Amount) && !math.IsInf(t.Amount, 0) {
			total = total.Add(decimal.NewFromFloat(t.Amount))
		}
	}
	return total
}
