package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal_notes/pkg/models"
)

func TestMeasureURL(t *testing.T) {
	bill, err := models.ParseBillID("SB_500_2024")
	require.NoError(t, err)

	assert.Equal(t,
		"https://www.capitol.hawaii.gov/session/measure_indiv.aspx?billtype=S&billnumber=500&year=2024",
		MeasureURL("www.capitol.hawaii.gov", bill))
}

func TestAbsoluteURL(t *testing.T) {
	page := "https://www.capitol.hawaii.gov/session/measure_indiv.aspx?billtype=H&billnumber=1483&year=2025"

	assert.Equal(t,
		"https://www.capitol.hawaii.gov/session2025/bills/HB1483_.HTM",
		absoluteURL(page, "/session2025/bills/HB1483_.HTM"))
	assert.Equal(t,
		"https://www.capitol.hawaii.gov/session/other.aspx",
		absoluteURL(page, "other.aspx"))
	assert.Equal(t,
		"https://example.org/doc.pdf",
		absoluteURL(page, "https://example.org/doc.pdf"))
}

func TestDocumentName(t *testing.T) {
	cases := map[string]string{
		"https://www.capitol.hawaii.gov/session2025/bills/HB1483_HD1_.HTM":      "HB1483_HD1_",
		"https://www.capitol.hawaii.gov/session2025/bills/HB1483_.PDF":          "HB1483_",
		"https://www.capitol.hawaii.gov/session2025/Testimony/HB1_TESTIMONY_.pdf": "HB1_TESTIMONY_",
	}
	for rawURL, want := range cases {
		assert.Equal(t, want, documentName(rawURL), rawURL)
	}
}

func TestDocumentKind(t *testing.T) {
	assert.Equal(t, models.DocKindHTM, documentKind("https://x/HB1_.HTM"))
	assert.Equal(t, models.DocKindHTM, documentKind("https://x/HB1_.html"))
	assert.Equal(t, models.DocKindPDF, documentKind("https://x/HB1_.pdf"))
	assert.Equal(t, "", documentKind("https://x/measure_indiv.aspx?billtype=H"))
	assert.Equal(t, "", documentKind("https://x/HB1_.txt"))
}

func TestDedupKeyIgnoresExtensionAndCase(t *testing.T) {
	htm := dedupKey("https://www.capitol.hawaii.gov/session2025/bills/HB1483_.HTM")
	pdf := dedupKey("https://www.capitol.hawaii.gov/session2025/bills/HB1483_.pdf")
	assert.Equal(t, htm, pdf)

	other := dedupKey("https://www.capitol.hawaii.gov/session2025/bills/HB1483_HD1_.HTM")
	assert.NotEqual(t, htm, other)
}
