package conversation

import "strings"

var stopwords = map[string][]string{
	"en": {"the", "and", "you", "that", "have", "what", "with", "this"},
	"fr": {"le", "la", "les", "est", "que", "vous", "pas", "une"},
	"es": {"el", "los", "las", "que", "por", "una", "como", "pero"},
	"de": {"der", "die", "das", "und", "ist", "nicht", "ich", "ein"},
	"it": {"il", "che", "non", "una", "per", "sono", "con", "questo"},
}

// InferLanguage guesses the dominant language of the given turns from
// common function words. It falls back to English when nothing matches;
// this only steers the summarizer prompt, not correctness.
func InferLanguage(turns []Turn) string {
	scores := make(map[string]int, len(stopwords))
	for _, turn := range turns {
		for _, word := range strings.Fields(strings.ToLower(turn.Text)) {
			word = strings.Trim(word, ".,!?;:'\"")
			for lang, words := range stopwords {
				for _, w := range words {
					if word == w {
						scores[lang]++
					}
				}
			}
		}
	}
	best, bestScore := "en", 0
	for lang, score := range scores {
		if score > bestScore || (score == bestScore && lang < best && score > 0) {
			best, bestScore = lang, score
		}
	}
	return best
}
