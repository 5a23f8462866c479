package analyzer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const embedded = `{"threat_level":"HIGH","confidence":0.85,"indicators":["11 failed logins for admin"],"reasoning":"burst of {failures}"}`

func TestExtractJSON_WrappingsYieldSameObject(t *testing.T) {
	want, err := decodeObject(embedded)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"fenced", "Here is my assessment:\n```json\n" + embedded + "\n```\nLet me know."},
		{"fenced uppercase tag", "```JSON\n" + embedded + "\n```"},
		{"prose", "Based on the data, " + embedded + " is my verdict."},
		{"bare", "  \n" + embedded + "\n"},
		{"prose with trailing braces", "Verdict: " + embedded + " (see {appendix})"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestExtractJSON_FencedWinsOverProse(t *testing.T) {
	raw := `Example: {"threat_level":"LOW","confidence":0.1}` + "\n```json\n" + `{"threat_level":"CRITICAL","confidence":1}` + "\n```"
	got, err := ExtractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", got["threat_level"])
}

func TestExtractJSON_ParseErrorCarriesExcerpt(t *testing.T) {
	raw := "I cannot determine a verdict. " + strings.Repeat("no data ", 100)

	_, err := ExtractJSON(raw)
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "want ParseError, got %v", err)
	assert.Len(t, perr.Excerpt, ExcerptLength)
	assert.True(t, strings.HasPrefix(raw, perr.Excerpt))
}

func TestExtractJSON_RejectsNonObjects(t *testing.T) {
	for _, raw := range []string{`["HIGH", 0.9]`, `null`, ``, `{"unterminated": `} {
		_, err := ExtractJSON(raw)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "raw %q", raw)
	}
}
