package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lysyi3m/astrobot/app/database"
)

// Channel describes the RSS channel wrapped around a source's posts.
type Channel struct {
	Title       string
	Link        string
	Description string
	SelfLink    string
}

type Generator struct {
	version string
}

func NewGenerator(version string) *Generator {
	return &Generator{version: version}
}

// Run renders posts as an RSS 2.0 document. Posts are expected newest first.
func (g *Generator) Run(channel Channel, posts []database.FeedPost, now time.Time) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", channel.Title, 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	g.writeElement(&buf, "description", channel.Description, 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := now
	if len(posts) > 0 {
		lastBuildDate = postDate(posts[0])
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("AstroBot/%s", g.version), 4)

	for _, post := range posts {
		g.writePost(&buf, post)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writePost(buf *bytes.Buffer, post database.FeedPost) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(post.SourceUID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", cmp.Or(post.Title, post.OriginalTitle), 6)
	g.writeElement(buf, "link", post.SourceURL, 6)
	description := cmp.Or(post.TranslatedSummary, post.OriginalSummary, "No description available")
	g.writeElement(buf, "description", description, 6)

	if post.Content != "" && post.Content != description {
		buf.WriteString("      <content:encoded><![CDATA[")
		// A CDATA section cannot contain its own terminator.
		buf.WriteString(strings.ReplaceAll(post.Content, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}

	g.writeElement(buf, "pubDate", postDate(post).Format(time.RFC1123Z), 6)

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func postDate(post database.FeedPost) time.Time {
	if post.SourcePublishedAt != nil {
		return *post.SourcePublishedAt
	}
	return post.CreatedAt
}
