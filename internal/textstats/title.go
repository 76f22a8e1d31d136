package textstats

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// stopwords are skipped by ShortTitle once an informative word is kept.
var stopwords = map[string]bool{
	"a": true, "al": true, "con": true, "de": true, "del": true, "e": true,
	"el": true, "en": true, "es": true, "la": true, "las": true, "lo": true,
	"los": true, "o": true, "para": true, "por": true, "que": true, "se": true,
	"su": true, "sus": true, "u": true, "un": true, "una": true, "y": true,
	"the": true, "of": true, "and": true, "to": true, "for": true, "in": true,
	"on": true, "an": true,
}

func isStopword(w string) bool {
	w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
	return stopwords[w]
}

// ShortTitle returns s unchanged when it fits in max characters. Otherwise it
// keeps words from the start of s, skipping stopwords after the first
// informative word, while the title stays within max-3 characters, then
// appends "...".
func ShortTitle(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	limit := max - len(ellipsis)
	if limit <= 0 {
		return ellipsis
	}

	var kept []string
	length := 0
	informative := false
	for _, w := range strings.Fields(s) {
		stop := isStopword(w)
		if informative && stop {
			continue
		}
		add := utf8.RuneCountInString(w)
		if len(kept) > 0 {
			add++
		}
		if length+add > limit {
			break
		}
		kept = append(kept, w)
		length += add
		if !stop {
			informative = true
		}
	}

	if len(kept) == 0 {
		// First word alone is longer than the budget.
		r := []rune(strings.TrimSpace(s))
		if len(r) > limit {
			r = r[:limit]
		}
		return string(r) + ellipsis
	}
	return strings.Join(kept, " ") + ellipsis
}
