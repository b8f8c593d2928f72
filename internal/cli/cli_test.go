package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transactionsJSON = `[
	{"id":"1","amount":12.5,"category":"Food","type":"expense","description":"Groceries","date":"2024-03-05T10:00:00Z"},
	{"id":"2","amount":7.5,"category":"Food","type":"expense","description":"Lunch","date":"2024-03-20T12:00:00Z"},
	{"id":"3","amount":1000,"category":"Salary","type":"income","description":"April pay","date":"2024-04-01T08:00:00Z"}
]`

func financeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/transactions/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(transactionsJSON))
	})
	mux.HandleFunc("/transactions/summary", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total_income":1000,"total_expense":20,"balance":980}`))
	})
	mux.HandleFunc("/budget/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Food":{"limit":15,"spent":20,"remaining":-5}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, apiURL, dbPath string) {
	t.Helper()
	t.Setenv("PORT", "8081")
	t.Setenv("FINANCE_API_URL", apiURL)
	t.Setenv("API_TIMEOUT", "2s")
	t.Setenv("TZ", "UTC")
	t.Setenv("SNAPSHOT_DB_PATH", dbPath)
	t.Setenv("AMQP_URL", "")
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")
	t.Setenv("SUBMITS_PER_MINUTE", "60")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "worker", "report"}, names)
	assert.Equal(t, "1.2.3", cmd.Version)
}

func TestReportPrintsMonth(t *testing.T) {
	setEnv(t, financeServer(t).URL, "")

	out, err := execute(t, "report", "--month", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "Finance report · March")
	assert.Contains(t, out, "$1,000")
	assert.Contains(t, out, "Food")
	assert.Contains(t, out, "Month total: $20")
	assert.Contains(t, out, "Groceries")
	assert.Contains(t, out, "over")
	assert.NotContains(t, out, "Recent submissions")
}

func TestReportJSON(t *testing.T) {
	setEnv(t, financeServer(t).URL, "")

	out, err := execute(t, "report", "--month", "2", "--json")
	require.NoError(t, err)

	var got struct {
		Month  int `json:"month"`
		Charts struct {
			Categories struct {
				Labels []string  `json:"labels"`
				Data   []float64 `json:"data"`
			} `json:"categories"`
		} `json:"charts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Month)
	assert.Equal(t, []string{"Food"}, got.Charts.Categories.Labels)
	assert.Equal(t, []float64{20}, got.Charts.Categories.Data)
}

func TestReportRejectsInvalidMonth(t *testing.T) {
	setEnv(t, financeServer(t).URL, "")

	_, err := execute(t, "report", "--month", "12")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid month")
}

func TestReportFallsBackToSavedSnapshot(t *testing.T) {
	api := financeServer(t)
	db := filepath.Join(t.TempDir(), "snapshot.db")
	setEnv(t, api.URL, db)

	out, err := execute(t, "report", "--month", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Recent submissions")
	assert.NotContains(t, out, "saved snapshot")

	api.Close()

	out, err = execute(t, "report", "--month", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "showing the last saved snapshot")
	assert.Contains(t, out, "Could not load data")
	assert.Contains(t, out, "Groceries")
}

func TestReportFailsWithoutSnapshot(t *testing.T) {
	api := financeServer(t)
	api.Close()
	setEnv(t, api.URL, "")

	_, err := execute(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list transactions")
}

func TestInvalidConfigurationStopsCommands(t *testing.T) {
	setEnv(t, "ftp://example.com", "")

	_, err := execute(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid finance API URL scheme")
}

func TestWorkerRequiresAMQP(t *testing.T) {
	setEnv(t, financeServer(t).URL, "")

	_, err := execute(t, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMQP_URL is required")
}

func TestLogLevelFlagOverridesEnvironment(t *testing.T) {
	setEnv(t, financeServer(t).URL, "")

	_, err := execute(t, "--log-level", "loud", "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}
