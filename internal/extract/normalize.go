package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spacesRe      = regexp.MustCompile(`[ \t]+`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	boilerplateRe = regexp.MustCompile(`(?im)^\s*(accept (all )?cookies|subscribe to our newsletter|share this article|advertisement|sign up for free|follow us on \w+)\s*$`)
)

// CollapseWhitespace flattens all runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize strips boilerplate lines and control characters and collapses
// whitespace, producing embedding-ready text. Paragraph breaks (double
// newlines) are preserved so downstream chunking keeps structure.
func Normalize(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	text = boilerplateRe.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
