package steps

import (
	"strconv"
	"time"
)

// Well-known run input keys. Callers may pass anything; the builtin
// agents read these.
const (
	InputLocation   = "location"
	InputIssueType  = "issue_type"
	InputFiscalYear = "fiscal_year"

	defaultLocation  = "Unknown Location"
	defaultIssueType = "infrastructure issue"
)

func stringInput(inputs map[string]any, key, fallback string) string {
	if v, ok := inputs[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intInput tolerates the types JSON decoding and YAML configs produce
// for numbers.
func intInput(inputs map[string]any, key string, fallback int) int {
	switch v := inputs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func location(inputs map[string]any) string {
	return stringInput(inputs, InputLocation, defaultLocation)
}

func issueType(inputs map[string]any) string {
	return stringInput(inputs, InputIssueType, defaultIssueType)
}

func fiscalYear(inputs map[string]any) int {
	return intInput(inputs, InputFiscalYear, time.Now().UTC().Year())
}
