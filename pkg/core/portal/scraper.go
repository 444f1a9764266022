// Package portal parses a measure's landing page into the Stage 1
// envelope: the status timeline exactly as the chamber recorded it, plus
// every bill document linked from the page.
package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/models"
)

// Fetcher delivers page HTML. The browser session satisfies this; tests
// hand in canned HTML.
type Fetcher interface {
	Get(ctx context.Context, url string) (string, error)
}

type Scraper struct {
	fetcher Fetcher
	host    string
}

func NewScraper(fetcher Fetcher, host string) *Scraper {
	return &Scraper{fetcher: fetcher, host: host}
}

// Scrape loads the bill's landing page and parses it.
func (s *Scraper) Scrape(ctx context.Context, bill models.BillID) (*models.ScrapeResult, error) {
	pageURL := MeasureURL(s.host, bill)
	fmt.Printf("🔍 Scraping measure page for %s\n", bill)

	html, err := s.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ParseMeasurePage(bill, pageURL, html)
}

// ParseMeasurePage parses landing-page HTML. Pure: the same HTML always
// produces the same envelope, byte for byte.
func ParseMeasurePage(bill models.BillID, pageURL, pageHTML string) (*models.ScrapeResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse measure page: %w", err)
	}

	statusRows := parseStatusRows(doc)
	if len(statusRows) == 0 {
		return nil, faults.New(faults.EmptyBill, "portal.scrape",
			"no status rows on measure page for %s", bill)
	}

	documents, reportNames := parseDocumentLinks(doc, pageURL)
	if len(documents) == 0 {
		return nil, faults.New(faults.EmptyBill, "portal.scrape",
			"no documents linked on measure page for %s", bill)
	}

	return &models.ScrapeResult{
		Bill:                 bill.String(),
		StatusRows:           statusRows,
		Documents:            documents,
		CommitteeReportNames: reportNames,
	}, nil
}

// parseStatusRows linearizes the status table in DOM order. Ordering is
// intrinsic to the page and must be preserved.
func parseStatusRows(doc *goquery.Document) []models.StatusEvent {
	var rows []models.StatusEvent
	doc.Find("table[id*='GridViewStatus'] tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return // header row
		}
		ev := models.StatusEvent{
			Date:    collapseSpace(cells.Eq(0).Text()),
			Chamber: collapseSpace(cells.Eq(1).Text()),
			Text:    collapseSpace(cells.Eq(2).Text()),
		}
		if ev.Date == "" && ev.Text == "" {
			return
		}
		rows = append(rows, ev)
	})
	return rows
}

// parseDocumentLinks collects every .htm/.pdf anchor, absolutized and
// deduplicated by path-without-extension. When both formats exist for one
// base the .htm wins: the HTML version is authoritative, the PDF is a
// rendering of it. Committee-report link labels come back separately as
// chronology hints.
func parseDocumentLinks(doc *goquery.Document, pageURL string) ([]models.Document, []string) {
	var documents []models.Document
	var reportNames []string
	byKey := make(map[string]int)
	nameSeen := make(map[string]bool)
	labelSeen := make(map[string]bool)

	region := doc.Find("#ctl00_ContentPlaceHolderCol1")
	if region.Length() == 0 {
		region = doc.Selection
	}

	region.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := absoluteURL(pageURL, href)
		kind := documentKind(abs)
		if kind == "" {
			return
		}
		name := documentName(abs)
		if name == "" {
			return
		}

		if committeeReportRe.MatchString(name) {
			label := collapseSpace(a.Text())
			if label == "" {
				label = name
			}
			if !labelSeen[label] {
				labelSeen[label] = true
				reportNames = append(reportNames, label)
			}
		}

		key := dedupKey(abs)
		if idx, seen := byKey[key]; seen {
			if kind == models.DocKindHTM && documents[idx].Kind == models.DocKindPDF {
				documents[idx].URL = abs
				documents[idx].Kind = models.DocKindHTM
			}
			return
		}
		if nameSeen[name] {
			return
		}

		byKey[key] = len(documents)
		nameSeen[name] = true
		documents = append(documents, models.Document{Name: name, URL: abs, Kind: kind})
	})

	return documents, reportNames
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
