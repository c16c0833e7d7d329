// Package textextract turns message bodies and attachments into plain text
// for reference extraction.
package textextract

import (
	"errors"
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupported is returned for attachment types without a text extractor
var ErrUnsupported = errors.New("unsupported attachment type")

// Attachment is a raw attachment as delivered by a mail provider
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// HTMLToText strips markup, keeping block elements on their own lines
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, h1, h2, h3, h4, table").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	text := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

// BodyText prefers the plain part and falls back to the HTML part
func BodyText(plain, html string) string {
	if strings.TrimSpace(plain) != "" {
		return plain
	}
	if strings.TrimSpace(html) != "" {
		return HTMLToText(html)
	}
	return ""
}

// FromAttachment extracts searchable text from an attachment.
// Binary documents are not handled here and yield ErrUnsupported.
func FromAttachment(a Attachment) (string, error) {
	mediaType := strings.ToLower(a.ContentType)
	if parsed, _, err := mime.ParseMediaType(a.ContentType); err == nil {
		mediaType = parsed
	}
	name := strings.ToLower(a.Filename)

	switch {
	case mediaType == "text/html" || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm"):
		return HTMLToText(string(a.Data)), nil
	case strings.HasPrefix(mediaType, "text/") || strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".csv"):
		return string(a.Data), nil
	default:
		return "", ErrUnsupported
	}
}

// FromAttachments collects the text of every supported attachment, skipping failures
func FromAttachments(atts []Attachment) []string {
	var out []string
	for _, a := range atts {
		text, err := FromAttachment(a)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, text)
	}
	return out
}
