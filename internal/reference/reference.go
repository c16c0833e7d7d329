// Package reference finds Romanian court file numbers ("dosar nr. 1234/62/2024")
// in message text and reduces them to a canonical form.
package reference

import (
	"regexp"
	"strings"
)

// Source names where a reference was found
type Source string

const (
	SourceSubject    Source = "subject"
	SourceBody       Source = "body"
	SourceAttachment Source = "attachment"
)

// Text is one searchable piece of a message
type Text struct {
	Source  Source
	Content string
}

// Match is an extracted reference
type Match struct {
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Source     Source  `json:"source"`
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

type pattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
	// bounded patterns consume a neighbouring rune that is not part of the reference
	bounded bool
}

// number/court/year with optional spaces around the slashes
const triple = `(\d{1,6})\s*/\s*(\d{1,4})\s*/\s*(\d{4})\b`

// Go regexp has no lookaround; the bare pattern consumes one boundary rune on each side instead.
var patterns = []pattern{
	{
		name:       "dosar",
		re:         regexp.MustCompile(`(?i)\bdosar(?:ul)?\s*(?:nr\.?|num[aă]r(?:ul)?)?\s*[:.]?\s*` + triple),
		confidence: 0.95,
	},
	{
		name:       "nr",
		re:         regexp.MustCompile(`(?i)\bnr\.?\s*[:.]?\s*` + triple),
		confidence: 0.8,
	},
	{
		name:       "bare",
		re:         regexp.MustCompile(`(?:^|[^\d/])` + triple + `(?:[^\d/]|$)`),
		confidence: 0.6,
		bounded:    true,
	},
}

// Extract returns the first reference found in the texts. Patterns are tried from
// the most specific down, each over every text in order, so a bare number in the
// subject never wins over an explicit "dosar nr." in the body.
func Extract(texts ...Text) (Match, bool) {
	for _, p := range patterns {
		for _, t := range texts {
			if strings.TrimSpace(t.Content) == "" {
				continue
			}
			if m, ok := p.find(t); ok {
				return m, true
			}
		}
	}
	return Match{}, false
}

// ExtractText is Extract over a single body of text
func ExtractText(text string) (Match, bool) {
	return Extract(Text{Source: SourceBody, Content: text})
}

func (p pattern) find(t Text) (Match, bool) {
	for _, loc := range p.re.FindAllStringSubmatchIndex(t.Content, -1) {
		group := func(i int) string { return t.Content[loc[2*i]:loc[2*i+1]] }
		normalized := canonical(group(1), group(2), group(3))
		if normalized == "" {
			continue
		}
		start, end := loc[0], loc[1]
		if p.bounded {
			start, end = loc[2], loc[7]
		}
		return Match{
			Raw:        strings.TrimSpace(t.Content[start:end]),
			Normalized: normalized,
			Source:     t.Source,
			Pattern:    p.name,
			Confidence: p.confidence,
		}, true
	}
	return Match{}, false
}

var normalizeRe = regexp.MustCompile(`^\s*` + triple + `\s*$`)

// Normalize returns the canonical "number/court/year" form of ref, or "" if ref is
// not a court file number. Normalize(Normalize(x)) == Normalize(x).
func Normalize(ref string) string {
	sub := normalizeRe.FindStringSubmatch(ref)
	if sub == nil {
		return ""
	}
	return canonical(sub[1], sub[2], sub[3])
}

func canonical(number, court, year string) string {
	number = trimZeros(number)
	court = trimZeros(court)
	if number == "0" || court == "0" {
		return ""
	}
	return number + "/" + court + "/" + year
}

func trimZeros(s string) string {
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}
