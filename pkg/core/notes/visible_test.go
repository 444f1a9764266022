package notes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscal_notes/pkg/models"
)

func TestNumberVisible(t *testing.T) {
	cases := []struct {
		name      string
		filename  string
		processed []string
		want      bool
	}{
		{"exact match", "HB1483_", []string{"HB1483_"}, true},
		{"exact with txt suffix", "HB1483_.txt", []string{"HB1483_"}, true},
		{"exact with PDF.txt suffix", "HB1483_.PDF.txt", []string{"HB1483_"}, true},
		{"exact with HTM.txt suffix", "HB1483_.HTM.txt", []string{"HB1483_"}, true},
		{"unprocessed document", "HB1483_HD1_", []string{"HB1483_"}, false},
		{"future testimony blocked", "HB1483_TESTIMONY_FIN_", []string{"HB1483_"}, false},
		{"future report blocked", "HB1483_HD1_HSCR101_", []string{"HB1483_"}, false},
		{"future cd blocked", "HB1483_CD1_", []string{"HB1483_", "HB1483_HD1_"}, false},
		{"relative without indicator", "HB1483_PROPOSED_", []string{"HB1483_"}, true},
		{"relative of processed draft", "HB1483_HD1_ANNEX_", []string{"HB1483_", "HB1483_HD1_"}, true},
		{"processed report exact", "HB1483_HD1_HSCR101_", []string{"HB1483_", "HB1483_HD1_", "HB1483_HD1_HSCR101_"}, true},
		{"different bill", "SB500_", []string{"HB1483_"}, false},
		{"empty processed", "HB1483_", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, numberVisible(tc.filename, tc.processed))
		})
	}
}

func TestVisibleNumbersNoFutureLeak(t *testing.T) {
	all := []models.MoneyOccurrence{
		{Amount: 1000000, Currency: "USD", Filename: "HB1483_"},
		{Amount: 2000000, Currency: "USD", Filename: "HB1483_HD1_"},
		{Amount: 3000000, Currency: "USD", Filename: "HB1483_HD1_HSCR101_"},
	}

	// First checkpoint: only the introduction has been processed.
	visible := VisibleNumbers(all, []string{"HB1483_"})
	require.Len(t, visible, 1)
	assert.Equal(t, float64(1000000), visible[0].Amount)

	// Second checkpoint: everything up to the report is in scope.
	visible = VisibleNumbers(all, []string{"HB1483_", "HB1483_HD1_", "HB1483_HD1_HSCR101_"})
	require.Len(t, visible, 3)
	// Discovery order survives the filter.
	assert.Equal(t, float64(1000000), visible[0].Amount)
	assert.Equal(t, float64(3000000), visible[2].Amount)
}

func TestStripTextSuffix(t *testing.T) {
	assert.Equal(t, "HB1483_", StripTextSuffix("HB1483_.PDF.txt"))
	assert.Equal(t, "HB1483_", StripTextSuffix("HB1483_.HTM.txt"))
	assert.Equal(t, "HB1483_", StripTextSuffix("HB1483_.txt"))
	assert.Equal(t, "HB1483_", StripTextSuffix("HB1483_"))
}

func TestMoneyString(t *testing.T) {
	cases := map[float64]string{
		750:        "750",
		5000:       "5,000",
		1000000:    "1,000,000",
		2500000.50: "2,500,000.50",
		0.99:       "0.99",
		12345.67:   "12,345.67",
	}
	for amount, want := range cases {
		assert.Equal(t, want, moneyString(amount), "amount %v", amount)
	}
}

func TestRenderNumbers(t *testing.T) {
	bill, err := models.ParseBillID("HB_1483_2025")
	require.NoError(t, err)

	out := renderNumbers(bill, []models.MoneyOccurrence{
		{Amount: 1000000, Filename: "HB1483_"},
		{Amount: 250000, Filename: "HB1483_HD1_HSCR101_"},
	})
	assert.Contains(t, out, "- $1,000,000 from Introduction (HB1483_)")
	assert.Contains(t, out, "- $250,000 from CommitteeReport (HB1483_HD1_HSCR101_)")

	empty := renderNumbers(bill, nil)
	assert.Contains(t, empty, "no monetary figures")
}
