package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n[1,2]\n```", `[1,2]`},
		{"preamble prose", `Here is the JSON you asked for: {"a":1} Hope it helps!`, `{"a":1}`},
		{"array with prose", `Sure. [{"date":"1/5"}] Done.`, `[{"date":"1/5"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.input))
		})
	}
}

func TestSmartParseStrategies(t *testing.T) {
	type row struct {
		Date string `json:"date"`
		Text string `json:"text"`
	}

	t.Run("strict json", func(t *testing.T) {
		var v row
		out, err := SmartParse(`{"date":"1/5/2025","text":"Introduced"}`, &v)
		require.NoError(t, err)
		assert.Equal(t, "Introduced", v.Text)
		assert.JSONEq(t, `{"date":"1/5/2025","text":"Introduced"}`, out)
	})

	t.Run("repairable json", func(t *testing.T) {
		var v row
		_, err := SmartParse(`{'date': '1/5/2025', 'text': 'Introduced',}`, &v)
		require.NoError(t, err)
		assert.Equal(t, "1/5/2025", v.Date)
	})

	t.Run("fenced json", func(t *testing.T) {
		var v row
		_, err := SmartParse("```json\n{\"date\":\"2/1\",\"text\":\"Passed\"}\n```", &v)
		require.NoError(t, err)
		assert.Equal(t, "Passed", v.Text)
	})

	t.Run("hopeless input", func(t *testing.T) {
		var v row
		_, err := SmartParse("no json here at all", &v)
		assert.Error(t, err)
	})
}

func TestRequireKeys(t *testing.T) {
	body := `{"overview":"x","appropriations":""}`

	require.NoError(t, RequireKeys(body, []string{"overview", "appropriations"}))

	err := RequireKeys(body, []string{"overview", "appropriations", "agency_impact"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agency_impact")

	assert.Error(t, RequireKeys(`[1,2]`, []string{"overview"}))
}

func TestCleanMarkdown(t *testing.T) {
	assert.Equal(t, "## Overview", CleanMarkdown("```markdown\n## Overview\n```"))
	assert.Equal(t, "plain", CleanMarkdown("  plain  "))
}

func TestRenderHTMLKeepsCitationBrackets(t *testing.T) {
	html, err := RenderHTML("Appropriates $250,000 [1] for the pilot (HB999) [2].")
	require.NoError(t, err)
	assert.Contains(t, html, "[1]")
	assert.Contains(t, html, "[2]")
}
