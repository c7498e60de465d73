package extractor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tablenorm/internal/domain"
)

var yearPattern = regexp.MustCompile(`\b(20[2-3][0-9])\b`)

// BuildContext assembles the document context from metadata and leading text.
// The leading text is cut to maxChars runes.
func BuildContext(title, subject, leadingText string, maxChars int) domain.DocumentContext {
	var parts []string
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, "Title: "+t)
	}
	if s := strings.TrimSpace(subject); s != "" {
		parts = append(parts, "Subject: "+s)
	}

	text := truncateRunes(strings.TrimSpace(leadingText), maxChars)
	if text != "" {
		parts = append(parts, "First page text: "+text)
		if years := yearsMentioned(text); len(years) > 0 {
			parts = append(parts, "Years mentioned: "+strings.Join(years, ", "))
		}
	}

	if len(parts) == 0 {
		return domain.NoDocumentContext
	}
	return domain.DocumentContext(strings.Join(parts, " | "))
}

func yearsMentioned(text string) []string {
	set := map[string]bool{}
	for _, m := range yearPattern.FindAllStringSubmatch(text, -1) {
		set[m[1]] = true
	}
	years := make([]string, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

var yearRange = regexp.MustCompile(`\s*\(\d{4}[–—-]\d{4}\)`)

// findTitle looks for a caption such as "Table 2: Operating budget" in the page
// text. It prefers the caption numbered like the table, then any caption.
func findTitle(pageText string, tableIndex int) string {
	idx := regexp.QuoteMeta(strconv.Itoa(tableIndex))
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)Table\s+` + idx + `\s*[:\-]\s*([^\n]+)`),
		regexp.MustCompile(`(?i)Table\s+` + idx + `\b[^\n]*\n([^\n]+)`),
		regexp.MustCompile(`(?i)Table\s+\d+\s*[:\-]\s*([^\n]+)`),
	}
	for _, p := range patterns {
		m := p.FindStringSubmatch(pageText)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(yearRange.ReplaceAllString(m[1], ""))
		if n := len([]rune(title)); n > 5 && n < 100 {
			return title
		}
	}
	return ""
}
