package display

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestFormatLines(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 40, nil},
		{"blank paragraphs dropped", "  \n\nhello\n \n", 40, []string{"hello"}},
		{"trimmed", "  hi there  ", 40, []string{"hi there"}},
		{"breaks at last space", "aaa bbb ccc", 7, []string{"aaa bbb", "ccc"}},
		{"space exactly at width", "aaaa bbbb", 4, []string{"aaaa", "bbbb"}},
		{"hard break without space", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"paragraphs kept apart", "one\ntwo", 40, []string{"one", "two"}},
		{"multibyte counted as runes", "ééééé ééééé", 5, []string{"ééééé", "ééééé"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatLines(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("FormatLines(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestFormatLinesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		width := rapid.IntRange(1, 60).Draw(t, "width")
		text := rapid.StringOf(rapid.SampledFrom([]rune("abc de\nf é  ghij"))).Draw(t, "text")

		lines := FormatLines(text, width)
		for _, l := range lines {
			if n := utf8.RuneCountInString(l); n == 0 || n > width {
				t.Fatalf("line %q has %d runes, width %d", l, n, width)
			}
			if l != strings.TrimSpace(l) {
				t.Fatalf("line %q not trimmed", l)
			}
		}

		// Wrapping only ever drops whitespace.
		strip := func(s string) string { return strings.Join(strings.Fields(s), "") }
		if got, want := strip(strings.Join(lines, "")), strip(text); got != want {
			t.Fatalf("non-space content changed: got %q, want %q", got, want)
		}
	})
}

func TestFormatLinesKeepsWords(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		width := rapid.IntRange(1, DefaultLineWidth).Draw(t, "width")
		word := rapid.StringOfN(rapid.SampledFrom([]rune("abcxyzé😀")), 1, width, -1)
		words := rapid.SliceOf(word).Draw(t, "words")
		seps := rapid.SliceOfN(rapid.SampledFrom([]string{" ", "  ", "\n", " \n "}), len(words), len(words)).Draw(t, "seps")

		var b strings.Builder
		for i, w := range words {
			b.WriteString(w)
			b.WriteString(seps[i])
		}
		text := b.String()

		got := strings.Fields(strings.Join(FormatLines(text, width), " "))
		want := strings.Fields(text)
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("words changed: got %q, want %q", got, want)
		}
	})
}

func TestPaginateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "lines")
		perPage := rapid.IntRange(1, 10).Draw(t, "perPage")
		lines := make([]string, n)
		for i := range lines {
			lines[i] = strings.Repeat("x", i%7+1)
		}

		pages := Paginate(lines, perPage)
		if want := (n + perPage - 1) / perPage; len(pages) != want {
			t.Fatalf("Paginate(%d lines, %d) = %d pages, want %d", n, perPage, len(pages), want)
		}
		var flat []string
		for i, p := range pages {
			if len(p) == 0 || len(p) > perPage {
				t.Fatalf("page %d has %d lines", i, len(p))
			}
			if i < len(pages)-1 && len(p) != perPage {
				t.Fatalf("non-final page %d has %d lines", i, len(p))
			}
			flat = append(flat, p...)
		}
		if strings.Join(flat, "|") != strings.Join(lines, "|") {
			t.Fatal("pages do not reassemble the lines")
		}
	})
}

func TestPaginate(t *testing.T) {
	lines := []string{"1", "2", "3", "4", "5", "6", "7"}
	pages := Paginate(lines, 5)
	if len(pages) != 2 || len(pages[0]) != 5 || len(pages[1]) != 2 {
		t.Fatalf("Paginate() = %v, want pages of 5 and 2", pages)
	}
	if len(Paginate(nil, 5)) != 0 {
		t.Error("Paginate(nil) should be empty")
	}
}
