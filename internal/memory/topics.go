package memory

import (
	"regexp"
	"sort"
	"strings"

	"github.com/orsinium-labs/stopwords"
)

const maxTopicsPerMessage = 3

var (
	punctuationPattern = regexp.MustCompile(`[^\w\s]`)

	englishStopwords = stopwords.MustGet("en")

	baseStopWords = map[string]struct{}{
		"the": {}, "and": {}, "to": {}, "of": {}, "a": {}, "in": {}, "that": {}, "is": {},
		"it": {}, "for": {}, "you": {}, "are": {}, "with": {}, "on": {}, "as": {}, "this": {},
		"was": {}, "be": {}, "have": {}, "not": {}, "what": {}, "who": {}, "when": {},
		"where": {}, "why": {}, "how": {}, "which": {}, "would": {}, "could": {}, "should": {},
		"an": {}, "my": {}, "your": {}, "his": {}, "her": {}, "their": {}, "our": {}, "but": {},
	}

	// closedClassWords are function words (pronouns, determiners, auxiliaries,
	// prepositions, conjunctions). The English stop-word set only applies to
	// these, so it never removes a content word such as "work" or "home".
	closedClassWords = map[string]struct{}{
		"they": {}, "them": {}, "theirs": {}, "hers": {}, "ours": {}, "yours": {}, "mine": {},
		"myself": {}, "yourself": {}, "himself": {}, "herself": {}, "itself": {}, "ourselves": {},
		"themselves": {}, "these": {}, "those": {}, "there": {}, "here": {}, "whom": {}, "whose": {},
		"some": {}, "each": {}, "every": {}, "either": {}, "neither": {}, "such": {}, "both": {},
		"been": {}, "being": {}, "were": {}, "will": {}, "shall": {}, "does": {}, "doing": {},
		"done": {}, "having": {}, "must": {}, "might": {}, "cannot": {}, "into": {}, "onto": {},
		"from": {}, "about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "along": {},
		"among": {}, "around": {}, "before": {}, "behind": {}, "below": {}, "beside": {},
		"between": {}, "beyond": {}, "down": {}, "during": {}, "like": {},
		"near": {}, "over": {}, "since": {}, "through": {}, "toward": {}, "towards": {},
		"under": {}, "until": {}, "upon": {}, "within": {}, "without": {}, "although": {},
		"because": {}, "while": {}, "whether": {}, "unless": {}, "though": {}, "than": {},
		"then": {}, "also": {}, "only": {}, "very": {}, "just": {}, "even": {},
	}
)

// IsStopWord reports whether a lower-cased token carries no topical meaning.
func IsStopWord(token string) bool {
	if _, ok := baseStopWords[token]; ok {
		return true
	}
	if _, ok := closedClassWords[token]; !ok {
		return false
	}
	return englishStopwords.Contains(token)
}

// Tokenize lower-cases text, strips punctuation and splits on whitespace.
func Tokenize(text string) []string {
	cleaned := punctuationPattern.ReplaceAllString(strings.ToLower(text), "")
	return strings.Fields(cleaned)
}

// ExtractTopics returns up to three keywords ordered by descending frequency.
// Ties keep first-seen order.
func ExtractTopics(text string) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, token := range Tokenize(text) {
		if len(token) <= 3 || IsStopWord(token) {
			continue
		}
		if counts[token] == 0 {
			order = append(order, token)
		}
		counts[token]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxTopicsPerMessage {
		order = order[:maxTopicsPerMessage]
	}
	return order
}
