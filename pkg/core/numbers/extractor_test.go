package numbers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amounts(t *testing.T, text string) []float64 {
	t.Helper()
	occ := ExtractFromText("DOC_", text)
	if len(occ) == 0 {
		return nil
	}
	out := make([]float64, len(occ))
	for i, o := range occ {
		out[i] = o.Amount
	}
	return out
}

func TestExtractForms(t *testing.T) {
	cases := []struct {
		text string
		want []float64
	}{
		{"appropriates $1,000,000 for the program", []float64{1000000}},
		{"appropriates USD 5,000 for the program", []float64{5000}},
		{"a fee of 5000 $ per year", []float64{5000}},
		{"a fee of 2,500,000.50 USD annually", []float64{2500000.50}},
		{"costs $ 750 per unit", []float64{750}},
		{"costs USD2,000 per unit", []float64{2000}},
		{"a grant of $0.99 each", []float64{0.99}},
		{"(see $500,000)", []float64{500000}},
		{"no money mentioned here", nil},
		{"the year 2025 and section 103D", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, amounts(t, tc.text), "text %q", tc.text)
	}
}

func TestExtractIgnoresIdentifierDigits(t *testing.T) {
	// The bill number brushes against the dollar sign across a space; only
	// the marked amount may come out.
	got := ExtractFromText("DOC_", "HB1483 appropriates $500,000 from the general fund")
	require.Len(t, got, 1)
	assert.Equal(t, float64(500000), got[0].Amount)
}

func TestExtractDoubleMarkedOnce(t *testing.T) {
	got := ExtractFromText("DOC_", "a total of $5,000 USD was allocated")
	require.Len(t, got, 1, "an amount flanked by two markers is one occurrence")
	assert.Equal(t, float64(5000), got[0].Amount)
}

func TestExtractNoDedup(t *testing.T) {
	text := "The department receives $250,000 in FY26. A matching $250,000 follows in FY27."
	got := ExtractFromText("DOC_", text)
	require.Len(t, got, 2)
	assert.Equal(t, got[0].Amount, got[1].Amount)
	assert.Less(t, got[0].OffsetChars, got[1].OffsetChars)
	assert.NotEqual(t, got[0].Context, got[1].Context)
}

func TestExtractOffsets(t *testing.T) {
	text := "grant of $12,345.67 awarded"
	got := ExtractFromText("DOC_", text)
	require.Len(t, got, 1)
	assert.Equal(t, 12345.67, got[0].Amount)
	// Offset points at the first digit of the amount.
	assert.Equal(t, strings.Index(text, "12,345.67"), got[0].OffsetChars)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, "DOC_", got[0].Filename)
}

func TestExtractContextWindow(t *testing.T) {
	var words []string
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("w%d", i))
	}
	words[100] = "$9,999"
	text := strings.Join(words, " ")

	got := ExtractFromText("DOC_", text)
	require.Len(t, got, 1)

	ctx := strings.Fields(got[0].Context)
	assert.Len(t, ctx, 101, "50 tokens each side plus the match token")
	assert.Equal(t, "w50", ctx[0])
	assert.Equal(t, "w150", ctx[100])
	assert.Equal(t, "$9,999", ctx[50])
}

func TestExtractContextTruncatesAtBoundaries(t *testing.T) {
	got := ExtractFromText("DOC_", "$100 near the start of a short text")
	require.Len(t, got, 1)
	assert.Equal(t, "$100 near the start of a short text", got[0].Context)
}

func TestExtractDeterministic(t *testing.T) {
	text := "appropriates $1,000,000 and then 5000 $ and USD 77.25 in total"
	first := ExtractFromText("DOC_", text)
	second := ExtractFromText("DOC_", text)
	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, []float64{1000000, 5000, 77.25}, []float64{first[0].Amount, first[1].Amount, first[2].Amount})
}

func TestExtractDocumentsOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B_.txt"), []byte("second doc $2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A_.txt"), []byte("first doc $1 and $3"), 0644))

	// Order comes from the caller (timeline order), not the filesystem.
	got, err := ExtractDocuments(dir, []string{"A_", "B_", "MISSING_"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "A_.txt", got[0].Filename)
	assert.Equal(t, float64(1), got[0].Amount)
	assert.Equal(t, float64(3), got[1].Amount)
	assert.Equal(t, "B_.txt", got[2].Filename)
}

func TestExtractDocumentsEmptyDir(t *testing.T) {
	got, err := ExtractDocuments(t.TempDir(), []string{"NONE_"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got, "numbers.json serializes as [] rather than null")
}
