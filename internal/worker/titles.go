package worker

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultTitle is used when a clip has no usable transcript snippet.
const DefaultTitle = "New clip"

const (
	titleMaxLen      = 60
	titleSnippetSize = 28 // words fed into the title heuristic
)

// TitleGenerator proposes a better title for a transcript snippet. It is
// consulted only when the heuristic's confidence falls below the configured
// threshold. Returning an empty string keeps the heuristic title.
type TitleGenerator interface {
	Title(ctx context.Context, snippet string) (string, error)
}

var fillerPrefix = regexp.MustCompile(`(?i)^(um|uh|like|you know)\b[:,]?\s*`)

var titleCaser = cases.Upper(language.English)

// HeuristicTitle derives a title from the clip's opening words. Returns the
// title and a confidence in [0,1]; longer titles read as more intentional
// and score higher.
func HeuristicTitle(snippet string) (string, float64) {
	s := strings.Join(strings.Fields(snippet), " ")
	if s == "" {
		return DefaultTitle, 0.2
	}

	s = fillerPrefix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTitle, 0.2
	}

	s = capitalizeFirst(s)
	title := truncateTitle(s, titleMaxLen)

	conf := 0.45
	if utf8.RuneCountInString(title) >= 14 {
		conf = 0.65
	}
	return title, conf
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return titleCaser.String(s[:size]) + s[size:]
}

// truncateTitle cuts at maxLen runes, dropping trailing whitespace before
// the ellipsis.
func truncateTitle(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimRight(string(runes[:maxLen-1]), " ") + "…"
}
