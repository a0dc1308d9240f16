package resolver

import (
	"strings"
	"unicode"
)

// referringExpressions is the closed set of surface forms that trigger
// resolution. Detection is purely lexical; judging what an expression
// refers to is the collaborator's job.
var referringExpressions = map[string]bool{
	"it": true, "he": true, "she": true,
	"him": true, "her": true, "his": true, "hers": true,
	"its": true, "they": true, "them": true,
	"their": true, "theirs": true,
	"this": true, "that": true,
	"it's": true, "he's": true, "she's": true, "that's": true, "they're": true,
}

// DetectReferringExpressions scans the query for referring-expression
// surface forms and returns them in order of first appearance. It is a
// pure function of the query string and never calls the collaborator.
func DetectReferringExpressions(query string) []string {
	seen := map[string]bool{}
	var found []string
	for _, tok := range tokenize(query) {
		if referringExpressions[tok] && !seen[tok] {
			seen[tok] = true
			found = append(found, tok)
		}
	}
	return found
}

// tokenize lowercases the query and splits it into words, keeping
// apostrophes inside contractions.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
