package dashboard

import (
	"math"
	"strconv"
	"strings"
	"time"

	"finboard/internal/core"
)

// MonthNames are the sidebar labels, January first.
var MonthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

type (
	// MonthLink is one entry of the month sidebar.
	MonthLink struct {
		Index    int
		Name     string
		Selected bool
	}

	// Figures are the headline totals, already formatted.
	Figures struct {
		Income         string
		Expense        string
		Balance        string
		FixedIncome    string
		VariableIncome string
	}

	// Slice is one chart segment and its legend entry.
	Slice struct {
		Label   string
		Value   float64
		Display string
		Color   string
	}

	// Row is one line of the transaction list.
	Row struct {
		ID          string
		Type        string
		Amount      string
		Category    string
		Description string
	}

	BudgetRow struct {
		Category  string
		Limit     string
		Spent     string
		Remaining string
		Over      bool
	}

	// Dataset is the Chart.js shape of one chart.
	Dataset struct {
		Labels []string  `json:"labels"`
		Data   []float64 `json:"data"`
		Colors []string  `json:"colors"`
	}

	// Charts is what the browser needs to draw both charts.
	Charts struct {
		Month           int     `json:"month"`
		IncomeVsExpense Dataset `json:"income_vs_expense"`
		Categories      Dataset `json:"categories"`
	}

	// View is everything the page renders for one month.
	View struct {
		Month      int
		MonthName  string
		Months     []MonthLink
		Figures    Figures
		Overview   []Slice
		Categories []Slice
		MonthTotal string
		Rows       []Row
		Budgets    []BudgetRow
		Draft      core.Draft
		Notice     string
		Ready      bool
		Source     Source
		Generation uint64
	}

	// monthView is the part of a View that depends only on the snapshot and
	// the month, memoized per generation.
	monthView struct {
		figures    Figures
		overview   []Slice
		categories []Slice
		monthTotal string
		rows       []Row
		budgets    []BudgetRow
	}
)

// View renders the selected month.
func (d *Dashboard) View() View {
	return d.ViewMonth(d.Month())
}

// ViewMonth renders month without changing the selection. Months outside
// 0–11 render an empty list and category chart.
func (d *Dashboard) ViewMonth(month int) View {
	d.mu.RLock()
	snap, gen, src := d.snap, d.generation, d.source
	draft, notice := d.draft, d.notice
	d.mu.RUnlock()

	key := strconv.FormatUint(gen, 10) + ":" + strconv.Itoa(month)
	mv, ok := d.views.Get(key)
	if !ok {
		mv = buildMonthView(snap, month, d.loc)
		d.views.Set(key, mv)
	}

	v := View{
		Month:      month,
		Months:     monthLinks(month),
		Figures:    mv.figures,
		Overview:   mv.overview,
		Categories: mv.categories,
		MonthTotal: mv.monthTotal,
		Rows:       mv.rows,
		Budgets:    mv.budgets,
		Draft:      draft,
		Notice:     notice,
		Ready:      src != SourceNone,
		Source:     src,
		Generation: gen,
	}
	if month >= 0 && month < len(MonthNames) {
		v.MonthName = MonthNames[month]
	}
	return v
}

// Charts returns the chart datasets of the view. Both charts keep the
// order and colours of their legends.
func (v View) Charts() Charts {
	return Charts{
		Month:           v.Month,
		IncomeVsExpense: dataset(v.Overview),
		Categories:      dataset(v.Categories),
	}
}

func dataset(slices []Slice) Dataset {
	ds := Dataset{
		Labels: make([]string, 0, len(slices)),
		Data:   make([]float64, 0, len(slices)),
		Colors: make([]string, 0, len(slices)),
	}
	for _, s := range slices {
		ds.Labels = append(ds.Labels, s.Label)
		ds.Data = append(ds.Data, finite(s.Value))
		ds.Colors = append(ds.Colors, s.Color)
	}
	return ds
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func monthLinks(selected int) []MonthLink {
	links := make([]MonthLink, len(MonthNames))
	for i, name := range MonthNames {
		links[i] = MonthLink{Index: i, Name: name, Selected: i == selected}
	}
	return links
}

func buildMonthView(snap core.Snapshot, month int, loc *time.Location) monthView {
	sum := snap.Summary
	mv := monthView{
		figures: Figures{
			Income:  core.FormatDollars(sum.TotalIncome),
			Expense: core.FormatDollars(sum.TotalExpense),
			Balance: core.FormatDollars(sum.Balance),
		},
		overview: []Slice{
			{Label: "Income", Value: sum.TotalIncome, Display: core.FormatDollars(sum.TotalIncome), Color: core.IncomeColor},
			{Label: "Expenses", Value: sum.TotalExpense, Display: core.FormatDollars(sum.TotalExpense), Color: core.ExpenseColor},
		},
	}
	if sum.FixedIncome != nil {
		mv.figures.FixedIncome = core.FormatDollars(*sum.FixedIncome)
	}
	if sum.VariableIncome != nil {
		mv.figures.VariableIncome = core.FormatDollars(*sum.VariableIncome)
	}

	filtered := core.FilterByMonth(snap.Transactions, month, loc)
	totals := core.AggregateExpenses(filtered)
	mv.categories = make([]Slice, 0, len(totals))
	for _, ct := range totals {
		f, _ := ct.Amount.Float64()
		mv.categories = append(mv.categories, Slice{Label: ct.Name, Value: f, Display: core.FormatDecimal(ct.Amount), Color: ct.Color})
	}
	mv.monthTotal = core.FormatDecimal(core.TotalExpense(filtered))

	mv.rows = make([]Row, 0, len(filtered))
	for _, t := range filtered {
		mv.rows = append(mv.rows, Row{
			ID:          t.ID,
			Type:        strings.ToUpper(string(t.Type)),
			Amount:      core.FormatRaw(t.Amount),
			Category:    t.Category,
			Description: t.Description,
		})
	}

	for _, b := range snap.Budgets {
		mv.budgets = append(mv.budgets, BudgetRow{
			Category:  b.Category,
			Limit:     core.FormatDollars(b.Limit),
			Spent:     core.FormatDollars(b.Spent),
			Remaining: core.FormatDollars(b.Remaining),
			Over:      b.Remaining < 0,
		})
	}
	return mv
}
