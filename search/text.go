package search

import "strings"

// Words ignored when checking for verbatim matches. Includes the header
// words that show up in nearly every plain-text email body.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "re": true, "fwd": true, "fw": true, "subject": true,
}

const punctuation = ".,!?;:'\"-()[]{}<>"

// significantWords lowercases text, trims punctuation and drops stop words.
func significantWords(text string) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, punctuation))
		if cleaned != "" && !stopWords[cleaned] {
			out = append(out, cleaned)
		}
	}
	return out
}

// containsAllQueryWords reports whether every significant query word appears in body.
// A query made only of stop words never matches.
func containsAllQueryWords(body, query string) bool {
	queryWords := significantWords(query)
	if len(queryWords) == 0 {
		return false
	}

	bodyWords := make(map[string]bool)
	for _, w := range significantWords(body) {
		bodyWords[w] = true
	}
	for _, w := range queryWords {
		if !bodyWords[w] {
			return false
		}
	}
	return true
}
