package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// draftFields are the form inputs copied into the dashboard draft.
var draftFields = []string{"amount", "category", "type", "description"}

// parseMonth reads a 0-based month from values. ok is false when the key is
// absent or not a number; range checking is left to the dashboard.
func parseMonth(values url.Values) (month int, ok bool) {
	v := strings.TrimSpace(values.Get("month"))
	if v == "" {
		return 0, false
	}
	m, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return m, true
}

// formDraft collects the draft fields present in form. Amounts are kept as
// typed; free text is sanitized.
func formDraft(form url.Values) map[string]string {
	out := make(map[string]string, len(draftFields))
	for _, name := range draftFields {
		if _, present := form[name]; !present {
			continue
		}
		v := form.Get(name)
		if name != "amount" {
			v = sanitizeInput(v)
		}
		out[name] = v
	}
	return out
}

// isHTMX reports whether the request came from htmx and expects a fragment.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func dashboardURL(month int) string {
	return "/?month=" + strconv.Itoa(month)
}
