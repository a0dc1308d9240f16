package resolver

import "strings"

// possessives are rewritten to the entity name in possessive form, e.g.
// "his salary" becomes "Sriram's salary".
var possessives = map[string]bool{
	"his": true, "hers": true, "its": true, "their": true, "theirs": true,
}

// Rewrite substitutes a referring expression with the resolved entity
// name, preserving surrounding grammar as best effort. It is a
// deterministic string transform; no collaborator call is made.
func Rewrite(query, expr, entity string) string {
	return replaceWord(query, expr, func(followedByWord bool) string {
		switch {
		case expr == "they're":
			return entity + " are"
		case strings.HasSuffix(expr, "'s") || strings.HasSuffix(expr, "'re"):
			return entity + "'s"
		case possessives[expr]:
			return entity + "'s"
		case expr == "her":
			// "her salary" is possessive, "about her" is not.
			if followedByWord {
				return entity + "'s"
			}
			return entity
		default:
			return entity
		}
	})
}

// replaceWord replaces every whole-word, case-insensitive occurrence of
// word in s. The replacement may depend on whether another word follows.
func replaceWord(s, word string, repl func(followedByWord bool) string) string {
	lower := strings.ToLower(s)
	word = strings.ToLower(word)

	var b strings.Builder
	i := 0
	for i < len(s) {
		j := strings.Index(lower[i:], word)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		j += i
		end := j + len(word)
		if isBoundary(lower, j-1) && isBoundary(lower, end) {
			b.WriteString(s[i:j])
			b.WriteString(repl(followedByWord(lower, end)))
			i = end
		} else {
			b.WriteString(s[i : j+1])
			i = j + 1
		}
	}
	return b.String()
}

func isBoundary(s string, idx int) bool {
	if idx < 0 || idx >= len(s) {
		return true
	}
	c := s[idx]
	if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '\'' {
		return false
	}
	return true
}

// followedByWord reports whether a letter follows position idx after any
// run of spaces.
func followedByWord(s string, idx int) bool {
	for idx < len(s) && s[idx] == ' ' {
		idx++
	}
	if idx >= len(s) {
		return false
	}
	c := s[idx]
	return c >= 'a' && c <= 'z'
}
