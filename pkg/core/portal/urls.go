package portal

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"fiscal_notes/pkg/models"
)

// MeasureURL builds the bill landing page URL.
func MeasureURL(host string, bill models.BillID) string {
	return fmt.Sprintf("https://%s/session/measure_indiv.aspx?billtype=%s&billnumber=%d&year=%d",
		host, bill.Chamber, bill.Number, bill.Year)
}

// absoluteURL resolves href against the page URL.
func absoluteURL(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// documentName derives the join key from a document URL: the final path
// element without its extension. "/session2025/bills/HB1483_HD1_.HTM"
// yields "HB1483_HD1_".
func documentName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// documentKind maps a URL extension to a document kind; "" means the link
// is not a bill document.
func documentKind(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".htm", ".html":
		return models.DocKindHTM
	case ".pdf":
		return models.DocKindPDF
	}
	return ""
}

// dedupKey identifies the same document served in different formats: the
// URL path with the extension cut off.
func dedupKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	p := u.Path
	return strings.ToLower(strings.TrimSuffix(p, path.Ext(p)))
}
