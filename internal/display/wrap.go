// Package display turns text into acknowledged page transfers for the G1
// lens display and drives the word-by-word RSVP reader on top of them.
package display

import "strings"

// Display geometry of one lens.
const (
	DefaultLineWidth    = 40
	DefaultLinesPerPage = 5
)

// FormatLines splits text into display lines of at most width runes.
// Paragraphs are split on newlines and trimmed; empty paragraphs are
// dropped. Long lines break at the last space within width, or hard-break
// at width when there is none.
func FormatLines(text string, width int) []string {
	if width <= 0 {
		width = DefaultLineWidth
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		rest := []rune(para)
		for len(rest) > width {
			cut := lastSpace(rest[:width+1])
			if cut <= 0 {
				cut = width
			}
			lines = append(lines, strings.TrimSpace(string(rest[:cut])))
			rest = []rune(strings.TrimSpace(string(rest[cut:])))
		}
		if len(rest) > 0 {
			lines = append(lines, string(rest))
		}
	}
	return lines
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

// Paginate groups lines into pages of perPage lines. The last page may be short.
func Paginate(lines []string, perPage int) [][]string {
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}
	pages := make([][]string, 0, (len(lines)+perPage-1)/perPage)
	for start := 0; start < len(lines); start += perPage {
		end := min(start+perPage, len(lines))
		pages = append(pages, lines[start:end:end])
	}
	return pages
}
