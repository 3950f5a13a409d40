package runtime

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

// targetURL joins the origin and the request URI verbatim; the result doubles
// as the cache key.
func targetURL(origin, requestURI string) string {
	if requestURI == "" {
		requestURI = "/"
	} else if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return origin + requestURI
}

// verifyDocument rejects extractions that are empty or no longer contain the
// element the readiness wait saw. Selectors the HTML parser cannot compile
// skip the element check.
func verifyDocument(markup, selector string) error {
	if strings.TrimSpace(markup) == "" {
		return ErrEmptyDocument
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("runtime: parse document: %w", err)
	}
	if doc.Find("html").Length() == 0 {
		return ErrEmptyDocument
	}
	if selector == "" {
		return nil
	}
	if _, err := cascadia.Parse(selector); err != nil {
		return nil
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: ready selector %q not found", ErrIncompleteDocument, selector)
	}
	return nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m
}
