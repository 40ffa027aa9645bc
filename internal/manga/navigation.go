package manga

import "github.com/JakeFAU/mangawatch/internal/slug"

// Navigate locates current inside a newest-first chapter list and returns the
// ids of the older (prev) and newer (next) neighbours. Both are empty when
// current is not in the list.
func Navigate(chapters []Chapter, current string) (prev, next string) {
	idx := -1
	for i, ch := range chapters {
		if slug.MatchesSlug(ch.ID, current) || (ch.URL != "" && slug.MatchesSlug(ch.URL, current)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ""
	}
	if idx-1 >= 0 {
		next = chapters[idx-1].ID
	}
	if idx+1 < len(chapters) {
		prev = chapters[idx+1].ID
	}
	return prev, next
}
