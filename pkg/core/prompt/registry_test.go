package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsRegistered(t *testing.T) {
	r := Get()
	r.Reset()

	for _, id := range []string{ChronologyJoin, FiscalNote, SchemaRepair} {
		pt, err := r.GetPrompt(id)
		require.NoError(t, err, "template %s", id)
		assert.NotEmpty(t, pt.SystemPrompt)
	}

	schema, err := r.GetSchema(FiscalNote)
	require.NoError(t, err)
	assert.Contains(t, schema.JSONSchema, "updates_from_previous_fiscal_note")
}

func TestRenderChronologyPrompt(t *testing.T) {
	r := Get()
	r.Reset()

	out, err := r.Render(ChronologyJoin, map[string]interface{}{
		"StatusEvents":     `[{"date":"1/5/2025","chamber":"H","text":"Introduced"}]`,
		"DocumentNames":    "HB999",
		"CommitteeReports": "",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Introduced")
	assert.Contains(t, out, "HB999")
	assert.NotContains(t, out, "Committee report links", "empty hints omit the hint block")
}

func TestRenderNotePromptPreviousNoteConditional(t *testing.T) {
	r := Get()
	r.Reset()

	withPrev, err := r.Render(FiscalNote, map[string]interface{}{
		"CumulativeContext": "=== Document: HB999 ===\ntext",
		"VisibleNumbers":    "- $250,000 from Introduction",
		"PreviousNote":      `{"overview":"..."}`,
	})
	require.NoError(t, err)
	assert.Contains(t, withPrev, "Previous fiscal note")

	withoutPrev, err := r.Render(FiscalNote, map[string]interface{}{
		"CumulativeContext": "ctx",
		"VisibleNumbers":    "(none)",
		"PreviousNote":      "",
	})
	require.NoError(t, err)
	assert.NotContains(t, withoutPrev, "Previous fiscal note")
}

func TestLoadFromDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	override := `{"id": "fiscal.note", "name": "Custom", "system_prompt": "custom system", "user_prompt_template": "custom user"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note_override.json"), []byte(override), 0644))

	r := Get()
	r.Reset()
	require.NoError(t, LoadFromDirectory(dir))

	sys, err := r.SystemPrompt(FiscalNote)
	require.NoError(t, err)
	assert.Equal(t, "custom system", sys)

	t.Cleanup(func() { r.Reset() })
}
