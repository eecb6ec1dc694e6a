package content

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const textSelectors = "h1, h2, h3, h4, p, li, blockquote, pre"

func (p *Pipeline) extractPage(ctx context.Context, url string) (Extracted, error) {
	body, mediaType, err := p.fetch(ctx, url)
	if err != nil {
		return Extracted{}, err
	}
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		return Extracted{}, upstream(url, "not an html page: "+mediaType, nil)
	}
	return extractHTML(url, body)
}

func extractHTML(url string, body []byte) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extracted{}, upstream(url, "unparseable html", err)
	}
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()

	ex := Extracted{
		Title:       firstNonEmpty(metaContent(doc, "og:title"), doc.Find("title").First().Text(), doc.Find("h1").First().Text()),
		Description: firstNonEmpty(metaContent(doc, "og:description"), metaContent(doc, "description")),
	}

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var parts []string
	root.Find(textSelectors).Each(func(_ int, s *goquery.Selection) {
		// Nested matches such as <li><p> are collected through the inner node.
		if s.Find(textSelectors).Length() > 0 {
			return
		}
		if text := collapseSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		if text := collapseSpace(root.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	ex.Text = strings.Join(parts, "\n\n")
	return ex, nil
}

func metaContent(doc *goquery.Document, name string) string {
	sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
	v, _ := sel.Attr("content")
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = collapseSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
