// Package extract turns fetched HTML into normalized, embedding-ready text.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// minContentLength is the cutoff below which a page is considered to have no
// extractable article content.
const minContentLength = 140

// Candidate containers, checked in order. The first match with enough text
// wins.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".post-content",
	".article-body",
	".entry-content",
}

// Noise removed before text extraction.
var noiseSelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	".advertisement", ".ad", ".cookie-banner", ".newsletter-signup",
	".social-share", ".comments", "#comments",
}

// Readability extracts the readable article from an HTML document.
type Readability struct{}

// NewReadability builds the extractor.
func NewReadability() *Readability {
	return &Readability{}
}

// Extract parses the document and pulls out title, byline, site name, and the
// main content text. A nil result with a nil error means the page had no
// extractable content, which the runner treats as a data problem rather than
// an infrastructure failure.
func (r *Readability) Extract(_ context.Context, html string, url string) (*knowledge.ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for %s: %w", url, err)
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	content := extractContent(doc)
	if len(content) < minContentLength {
		return nil, nil
	}

	return &knowledge.ExtractionResult{
		Title:    extractTitle(doc),
		Content:  content,
		Length:   len(content),
		Byline:   firstAttr(doc, `meta[name="author"]`, "content"),
		SiteName: firstAttr(doc, `meta[property="og:site_name"]`, "content"),
	}, nil
}

func extractContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := CollapseWhitespace(node.Text())
		if len(text) >= minContentLength {
			return text
		}
	}
	return CollapseWhitespace(doc.Find("body").Text())
}

func extractTitle(doc *goquery.Document) string {
	if t := firstAttr(doc, `meta[property="og:title"]`, "content"); t != "" {
		return t
	}
	if t := CollapseWhitespace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return CollapseWhitespace(doc.Find("h1").First().Text())
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	val, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(val)
}
