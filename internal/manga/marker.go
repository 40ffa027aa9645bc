package manga

import (
	"regexp"
	"strconv"
	"unicode"
	"unicode/utf8"
)

var chapterNumberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// ChapterNumber extracts the first signed decimal number from a chapter marker.
// A sign glued to a preceding word ("chapter-12") is treated as a separator.
func ChapterNumber(marker string) (float64, bool) {
	loc := chapterNumberRe.FindStringIndex(marker)
	if loc == nil {
		return 0, false
	}
	start := loc[0]
	if c := marker[start]; (c == '-' || c == '+') && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(marker[:start])
		if unicode.IsLetter(prev) || unicode.IsDigit(prev) {
			start++
		}
	}
	n, err := strconv.ParseFloat(marker[start:loc[1]], 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsUpdate reports whether next is a newer chapter marker than prev.
// When both carry a number only a strict increase counts; a regression or an
// unchanged number is ignored. Otherwise any difference in the raw strings counts.
func IsUpdate(prev, next string) bool {
	prevN, prevOK := ChapterNumber(prev)
	nextN, nextOK := ChapterNumber(next)
	if prevOK && nextOK {
		return nextN > prevN
	}
	return prev != next
}
