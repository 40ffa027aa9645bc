// Package slug canonicalizes raw ids, paths and URLs into provider-agnostic slugs.
package slug

import "strings"

// knownPrefixes are path segments and literals stripped from the front of a slug.
var knownPrefixes = []string{
	"komik/",
	"manga/",
	"series/",
	"title/",
	"chapter/",
	"manga-",
}

// Clean reduces a raw id, path or URL to its bare slug. It strips scheme and
// host, query and fragment, surrounding slashes and whitespace, and known
// prefixes, repeating until nothing changes so Clean(Clean(x)) == Clean(x).
func Clean(raw string) string {
	s := raw
	for {
		next := cleanOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func cleanOnce(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "://"); i >= 0 {
		rest := s[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			s = rest[j:]
		} else {
			s = ""
		}
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	for _, p := range knownPrefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p)
		}
	}
	return s
}

// MatchesSlug reports whether candidate and target name the same title or
// chapter once both are cleaned. Empty slugs never match.
func MatchesSlug(candidate, target string) bool {
	c := Clean(candidate)
	return c != "" && c == Clean(target)
}

// Prefixed builds a provider-scoped key such as "komikindo:one-piece".
func Prefixed(source, id string) string {
	id = Clean(id)
	if source == "" {
		return id
	}
	return source + ":" + id
}

// Split reverses Prefixed. Keys without a provider prefix, including full
// URLs, return an empty source and the cleaned id.
func Split(key string) (source, id string) {
	key = strings.TrimSpace(key)
	i := strings.IndexByte(key, ':')
	if i <= 0 || strings.HasPrefix(key[i:], "://") || !isSourceName(key[:i]) {
		return "", Clean(key)
	}
	return key[:i], Clean(key[i+1:])
}

func isSourceName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
