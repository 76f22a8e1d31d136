// Package textstats computes simple metrics over business texts and derives
// short display titles from longer inputs.
package textstats

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stats is the result of Analyze.
type Stats struct {
	Words      int `json:"palabras"`
	Chars      int `json:"caracteres"`
	Sentences  int `json:"oraciones"`
	Paragraphs int `json:"parrafos"`
}

var (
	sentenceSep  = regexp.MustCompile(`[.!?]+`)
	paragraphSep = regexp.MustCompile(`\n[ \t]*\n`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// Words returns the number of whitespace-separated tokens in s.
func Words(s string) int {
	return len(strings.Fields(s))
}

// Chars returns the number of characters (runes) in s.
func Chars(s string) int {
	return utf8.RuneCountInString(s)
}

// SplitSentences splits s on runs of sentence terminators and returns the
// cleaned, non-empty segments.
func SplitSentences(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range sentenceSep.Split(s, -1) {
		if c := Clean(part); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Sentences returns the number of non-empty sentence segments in s.
func Sentences(s string) int {
	return len(SplitSentences(s))
}

// Paragraphs returns the number of non-empty blocks separated by blank lines.
func Paragraphs(s string) int {
	return len(splitParagraphs(s))
}

func splitParagraphs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range paragraphSep.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Analyze returns all four counts for s.
func Analyze(s string) Stats {
	if s == "" {
		return Stats{}
	}
	return Stats{
		Words:      Words(s),
		Chars:      Chars(s),
		Sentences:  Sentences(s),
		Paragraphs: Paragraphs(s),
	}
}

// Clean collapses whitespace runs into single spaces, trims the ends and
// drops control characters.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Truncate keeps the first maxWords words of s and appends "..." when
// anything was cut.
func Truncate(s string, maxWords int) string {
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	if maxWords < 0 {
		maxWords = 0
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// Format normalizes paragraph separation to a single blank line and trims
// every paragraph.
func Format(s string) string {
	var paras []string
	for _, p := range splitParagraphs(s) {
		lines := strings.Split(p, "\n")
		for i, l := range lines {
			lines[i] = Clean(l)
		}
		paras = append(paras, strings.Join(lines, "\n"))
	}
	return strings.Join(paras, "\n\n")
}
