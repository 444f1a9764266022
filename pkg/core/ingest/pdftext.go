package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"fiscal_notes/pkg/models"
)

// pdfTextThreshold is the minimum byte count the primary extractor must
// yield before its output is trusted. Scanned or oddly-encoded PDFs often
// come back nearly empty from the in-process library while poppler reads
// them fine.
const pdfTextThreshold = 1000

// PDFExtractor turns a downloaded PDF into plain text: in-process library
// first, pdftotext when the primary result is too short.
type PDFExtractor struct {
	poppler   *PopplerAdapter
	threshold int
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{
		poppler:   NewPopplerAdapter(),
		threshold: pdfTextThreshold,
	}
}

// Extract returns the text, which extractor produced it (primary,
// secondary, none), and an error when neither produced anything.
func (e *PDFExtractor) Extract(path string) (string, string, error) {
	primary, perr := extractWithLibrary(path)
	if perr == nil && len(primary) >= e.threshold {
		return primary, models.ExtractorPrimary, nil
	}

	if e.poppler.IsAvailable() {
		secondary, serr := e.poppler.ExtractText(path)
		if serr == nil && len(secondary) > len(primary) {
			fmt.Printf("⚠️  Primary PDF extraction yielded %d bytes, using pdftotext (%d bytes)\n",
				len(primary), len(secondary))
			return secondary, models.ExtractorSecondary, nil
		}
	}

	if perr == nil && primary != "" {
		return primary, models.ExtractorPrimary, nil
	}
	if perr != nil {
		return "", models.ExtractorNone, fmt.Errorf("pdf extraction failed: %w", perr)
	}
	return "", models.ExtractorNone, fmt.Errorf("pdf extraction produced no text")
}

// extractWithLibrary reads the PDF with github.com/ledongthuc/pdf. The
// library panics on some malformed cross-reference tables, so the panic is
// converted to an error here.
func extractWithLibrary(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf library panic: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}
