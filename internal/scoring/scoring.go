package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"interviewd/internal/model"
)

// Component weights of the composite score. They intentionally sum to
// 0.95, not 1.0: the historical arithmetic is preserved verbatim so
// stored scores stay reproducible.
const (
	keywordWeight      = 0.4
	fluencyWeight      = 0.2
	structureWeight    = 0.2
	completenessWeight = 0.15
)

// fillerVocabulary is the fixed set of filler phrases counted toward the
// filler ratio.
var fillerVocabulary = []string{
	"um", "uh", "like", "you know", "actually", "basically",
	"i mean", "kinda", "sort of", "right?", "so",
}

var (
	fillerRe   = buildFillerRegexp(fillerVocabulary)
	sentenceRe = regexp.MustCompile(`[.!?]+`)
)

// buildFillerRegexp compiles a word-boundary alternation over the filler
// phrases. A trailing boundary is only applied when the phrase ends in a
// word character ("right?" already ends at a non-word rune).
func buildFillerRegexp(phrases []string) *regexp.Regexp {
	parts := make([]string, 0, len(phrases))
	for _, p := range phrases {
		pat := `\b` + regexp.QuoteMeta(p)
		if r := p[len(p)-1]; r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			pat += `\b`
		}
		parts = append(parts, pat)
	}
	return regexp.MustCompile(strings.Join(parts, "|"))
}

// normalize lowercases the transcript and collapses runs of whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matchesItem reports whether the normalized transcript contains the
// item's primary term or any synonym. Matching is substring-based on
// purpose; word-boundary semantics would change historical scores.
func matchesItem(transcript string, item model.ExpectedItem) bool {
	if strings.Contains(transcript, strings.ToLower(item.Term)) {
		return true
	}
	for _, syn := range item.Synonyms {
		if strings.Contains(transcript, strings.ToLower(syn)) {
			return true
		}
	}
	return false
}

func countFillers(transcript string) int {
	return len(fillerRe.FindAllString(transcript, -1))
}

func splitSentences(transcript string) []string {
	var out []string
	for _, s := range sentenceRe.Split(transcript, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Score maps a transcript and its expected-content items to a score in
// [0,10] rounded to one decimal. Pure and deterministic: no I/O, no
// randomness, no hidden state. An empty or whitespace-only transcript
// scores exactly 0.
func Score(rawTranscript string, expected []model.ExpectedItem) float64 {
	transcript := normalize(rawTranscript)
	if transcript == "" {
		return 0
	}

	words := strings.Split(transcript, " ")
	wordCount := len(words)

	// Keyword component: matched weight over total weight. With no
	// expected content the component is 10 (no penalty for absent
	// criteria).
	var matchedWeight, totalWeight float64
	for _, item := range expected {
		w := item.EffectiveWeight()
		totalWeight += w
		if matchesItem(transcript, item) {
			matchedWeight += w
		}
	}
	keywordScore := 10.0
	if totalWeight != 0 {
		keywordScore = matchedWeight / totalWeight * 10
	}

	// Fluency component: sentence length balance and filler ratio.
	fillerRatio := float64(countFillers(transcript)) / math.Max(float64(wordCount), 1)
	sentences := splitSentences(transcript)

	fluencyScore := 10.0
	var longSentences, shortSentences int
	for _, s := range sentences {
		n := len(strings.Split(s, " "))
		if n > 25 {
			longSentences++
		}
		if n <= 4 {
			shortSentences++
		}
	}
	if longSentences >= 2 {
		fluencyScore -= 2
	}
	if shortSentences > 3 {
		fluencyScore -= 1
	}
	if fillerRatio > 0.03 {
		fluencyScore -= 2
	}
	if fillerRatio > 0.06 {
		fluencyScore -= 3
	}
	fluencyScore = math.Max(0, fluencyScore)

	// Structure component: intro, explanation, example, conclusion.
	structureScore := 0.0
	if strings.HasPrefix(transcript, "so") || strings.HasPrefix(transcript, "the") || strings.HasPrefix(transcript, "in my opinion") {
		structureScore += 2
	}
	if strings.Contains(transcript, "because") || strings.Contains(transcript, "this means") {
		structureScore += 3
	}
	if strings.Contains(transcript, "for example") || strings.Contains(transcript, "for instance") {
		structureScore += 3
	}
	if strings.Contains(transcript, "in summary") || strings.Contains(transcript, "overall") {
		structureScore += 2
	}
	structureScore = math.Min(10, structureScore)

	// Completeness component: word-count target plus lexical diversity.
	completenessScore := math.Min(10, float64(wordCount)/40*7)
	unique := make(map[string]struct{}, wordCount)
	for _, w := range words {
		unique[w] = struct{}{}
	}
	if float64(len(unique))/float64(wordCount) > 0.55 {
		completenessScore += 3
	}
	completenessScore = math.Min(10, completenessScore)

	final := keywordScore*keywordWeight +
		fluencyScore*fluencyWeight +
		structureScore*structureWeight +
		completenessScore*completenessWeight
	return math.Round(final*10) / 10
}

// Feedback produces ordered human-readable feedback for a transcript.
// Each rule is independent and additive; none suppresses another. The
// missing-keyword message (or positive coverage) is always first.
func Feedback(rawTranscript string, expected []model.ExpectedItem) []string {
	transcript := normalize(rawTranscript)
	words := strings.Split(transcript, " ")
	wordCount := len(words)

	var feedback []string

	var missing []string
	for _, item := range expected {
		if !matchesItem(transcript, item) {
			missing = append(missing, item.Term)
		}
	}
	if len(missing) > 0 {
		feedback = append(feedback, fmt.Sprintf("Try including key points such as: %s.", strings.Join(missing, ", ")))
	} else {
		feedback = append(feedback, "Great job! You covered all the important concepts.")
	}

	fillerRatio := float64(countFillers(transcript)) / math.Max(float64(wordCount), 1)
	if fillerRatio > 0.05 {
		feedback = append(feedback, fmt.Sprintf("Try reducing filler words. Your filler ratio is %.1f%%.", fillerRatio*100))
	}

	if wordCount < 25 {
		feedback = append(feedback, "Try providing a more detailed explanation with examples.")
	} else if wordCount > 90 {
		feedback = append(feedback, "Try being more concise and stick to the core points.")
	}

	if !strings.Contains(transcript, "for example") {
		feedback = append(feedback, "Add an example to strengthen your answer.")
	}
	if !strings.Contains(transcript, "in summary") && !strings.Contains(transcript, "overall") {
		feedback = append(feedback, "End with a short conclusion to summarize your points.")
	}

	return feedback
}
