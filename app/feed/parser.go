package feed

import (
	"bytes"
	"html"
	"slices"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
	sanitizer    *bluemonday.Policy
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		sanitizer:    bluemonday.StrictPolicy(),
	}
}

// Run parses an RSS or Atom document. Entries come back newest first, undated last.
func (p *Parser) Run(data []byte) (*Metadata, []Entry, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &ParseError{Errs: []error{err}}
	}

	metadata := &Metadata{
		Title:       p.plainText(parsed.Title),
		Link:        parsed.Link,
		Description: p.plainText(parsed.Description),
		Language:    parsed.Language,
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, p.normalizeEntry(item))
	}

	SortNewestFirst(entries)

	return metadata, entries, nil
}

func (p *Parser) normalizeEntry(item *gofeed.Item) Entry {
	entry := Entry{
		GUID:  strings.TrimSpace(item.GUID),
		Link:  strings.TrimSpace(item.Link),
		Title: p.plainText(item.Title),
	}

	summary := item.Description
	if strings.TrimSpace(summary) == "" {
		summary = item.Content
	}
	entry.Summary = p.plainText(summary)

	switch {
	case item.PublishedParsed != nil:
		published := item.PublishedParsed.UTC()
		entry.PublishedAt = &published
	case item.UpdatedParsed != nil:
		updated := item.UpdatedParsed.UTC()
		entry.PublishedAt = &updated
	}

	return entry
}

// plainText strips markup and collapses whitespace.
func (p *Parser) plainText(s string) string {
	if s == "" {
		return ""
	}
	stripped := html.UnescapeString(p.sanitizer.Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}

// SortNewestFirst orders entries by published time descending. Undated entries
// go last and ties keep feed order.
func SortNewestFirst(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.PublishedAt == nil && b.PublishedAt == nil:
			return 0
		case a.PublishedAt == nil:
			return 1
		case b.PublishedAt == nil:
			return -1
		}
		return b.PublishedAt.Compare(*a.PublishedAt)
	})
}
