package extract

import (
	"regexp"
	"strings"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes extracted text: every CR becomes an LF (so CRLF yields a
// blank line), runs of spaces and tabs collapse to one space, three or more
// consecutive newlines collapse to two, and surrounding whitespace is
// trimmed.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
