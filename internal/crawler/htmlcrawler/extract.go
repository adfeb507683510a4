package htmlcrawler

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/net/html/charset"
)

// extractHTML pulls title, meta description, and link href targets out
// of an HTML body with goquery, grounded on the teacher's
// extractMetadata/extractTextContent (which did the same job with
// regexes — goquery lets us do it properly). Non-UTF-8 bodies are
// transcoded via charset sniffing before parsing so pages that declare
// (or imply) a legacy encoding still extract readable text.
func extractHTML(body []byte, baseURL string) (title, description, text string, links []string, err error) {
	utf8Body, err := charset.NewReader(bytes.NewReader(body), "")
	if err != nil {
		return "", "", "", nil, fmt.Errorf("detecting html charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("parsing html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	description, _ = doc.Find(`meta[name="description"]`).First().Attr("content")

	var textBuilder strings.Builder
	doc.Find("script, style, noscript").Remove()
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		textBuilder.WriteString(strings.TrimSpace(sel.Text()))
	})
	text = strings.Join(strings.Fields(textBuilder.String()), " ")

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved := resolveURL(baseURL, href)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	return title, description, text, links, nil
}

// extractPDFText extracts plain text from a PDF body, grounded on the
// teacher's pkg/extractor/pdf.go (same page-by-page GetPlainText loop,
// without the OCR fallback — advanced content analysis is a Non-goal).
func extractPDFText(body []byte, maxPages int) (string, error) {
	if len(body) < 4 || string(body[:4]) != "%PDF" {
		return "", fmt.Errorf("not a valid PDF: missing %%PDF signature")
	}

	reader := bytes.NewReader(body)
	doc, err := pdf.NewReader(reader, int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}

	var textBuilder strings.Builder
	pages := doc.NumPage()
	for i := 1; i <= pages; i++ {
		if maxPages > 0 && i > maxPages {
			break
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		textBuilder.WriteString(pageText)
		textBuilder.WriteString("\n\n")
	}

	return strings.TrimSpace(textBuilder.String()), nil
}

// extractDOCXText extracts plain text from a DOCX body, grounded on
// the teacher's pkg/extractor/docx.go.
func extractDOCXText(body []byte) (string, error) {
	if len(body) < 4 || body[0] != 0x50 || body[1] != 0x4B {
		return "", fmt.Errorf("not a valid DOCX: missing ZIP signature")
	}

	reader := bytes.NewReader(body)
	doc, err := docx.ReadDocxFromMemory(reader, int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("parsing docx: %w", err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}
