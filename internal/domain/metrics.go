package domain

import (
	"regexp"
	"strings"
)

// The four quality metrics are deterministic lexical scorers. They never
// fail: degenerate inputs collapse to documented neutral defaults so an
// evaluation always completes.
//
// Neutral defaults:
//   - Faithfulness with no context: 0.5 (nothing to verify against).
//   - ContextualPrecision with no context: 1.
//   - ContextualRecall with no context, or no chunk relevant to the query: 1.

const (
	minTokenLength       = 2
	claimOverlapBar      = 0.60
	chunkRelevanceBar    = 0.10
	chunkUsageBar        = 0.20
	relevancyJaccardW    = 0.70
	relevancyLengthW     = 0.30
	neutralFaithfulness  = 0.5
	responseLengthFactor = 2.0
)

var (
	nonWordRe  = regexp.MustCompile(`\W+`)
	sentenceRe = regexp.MustCompile(`[.!?\n]+`)
	claimRe    = regexp.MustCompile(`(?i)\b(is|are|was|were|be|been|being|can|could|will|would|should|must|may|might|has|have|had)\b|\d`)
	negationRe = regexp.MustCompile(`(?i)\b(not|never|no|none|cannot|can't|isn't|aren't|wasn't|weren't|don't|doesn't|didn't|won't|wouldn't)\b`)
)

// Tokenize applies the shared metric tokenization: lowercase, non-word
// characters to spaces, whitespace split, tokens of length <= 2 dropped.
func Tokenize(s string) []string {
	normalized := nonWordRe.ReplaceAllString(strings.ToLower(s), " ")
	fields := strings.Fields(normalized)
	tokens := fields[:0]
	for _, tok := range fields {
		if len(tok) > minTokenLength {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

func setJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// coverage is the fraction of a's tokens that also appear in b.
func coverage(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	hits := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}

// AnswerRelevancy scores how well the response addresses the query:
// 0.7 x Jaccard(query, response) + 0.3 x a length-ratio term that penalizes
// responses much longer than the query. Returns 0 when either side has no
// usable tokens.
func AnswerRelevancy(query, response string) float64 {
	q := tokenSet(query)
	r := tokenSet(response)
	if len(q) == 0 || len(r) == 0 {
		return 0
	}
	lengthTerm := responseLengthFactor * float64(len(q)) / float64(len(r))
	if lengthTerm > 1 {
		lengthTerm = 1
	}
	return relevancyJaccardW*setJaccard(q, r) + relevancyLengthW*lengthTerm
}

// Faithfulness measures how well factual claims in the response are backed
// by the context. With no context it returns the neutral 0.5 prior; with no
// extractable claims it returns 1.
func Faithfulness(response string, context []string) float64 {
	if len(context) == 0 {
		return neutralFaithfulness
	}

	claims := extractClaims(response)
	if len(claims) == 0 {
		return 1
	}

	chunkSets := make([]map[string]struct{}, len(context))
	chunkNegated := make([]bool, len(context))
	for i, chunk := range context {
		chunkSets[i] = tokenSet(chunk)
		chunkNegated[i] = negationRe.MatchString(chunk)
	}

	verified := 0
	for _, claim := range claims {
		claimSet := tokenSet(claim)
		claimNegated := negationRe.MatchString(claim)
		for i, chunkSet := range chunkSets {
			if coverage(claimSet, chunkSet) < claimOverlapBar {
				continue
			}
			// A polarity flip between claim and supporting chunk is a
			// contradiction, not a verification.
			if claimNegated != chunkNegated[i] {
				continue
			}
			verified++
			break
		}
	}
	return float64(verified) / float64(len(claims))
}

// ContextualPrecision is the fraction of retrieved chunks that are relevant
// to either the query or the response. Empty context scores 1.
func ContextualPrecision(query string, context []string, response string) float64 {
	if len(context) == 0 {
		return 1
	}
	q := tokenSet(query)
	r := tokenSet(response)

	relevant := 0
	for _, chunk := range context {
		c := tokenSet(chunk)
		if coverage(c, q) >= chunkRelevanceBar || coverage(c, r) >= chunkRelevanceBar {
			relevant++
		}
	}
	return float64(relevant) / float64(len(context))
}

// ContextualRecall measures, among chunks relevant to the query, how many
// were actually used in the response. Empty context, or a context where no
// chunk clears the relevance bar, scores 1.
func ContextualRecall(query string, context []string, response string) float64 {
	if len(context) == 0 {
		return 1
	}
	q := tokenSet(query)
	r := tokenSet(response)

	relevant, used := 0, 0
	for _, chunk := range context {
		c := tokenSet(chunk)
		if coverage(c, q) < chunkRelevanceBar {
			continue
		}
		relevant++
		if coverage(c, r) >= chunkUsageBar {
			used++
		}
	}
	if relevant == 0 {
		return 1
	}
	return float64(used) / float64(relevant)
}

// extractClaims pulls candidate factual statements from the response:
// sentences containing a being verb, a modal verb, or a number.
func extractClaims(response string) []string {
	var claims []string
	for _, sentence := range sentenceRe.Split(response, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if claimRe.MatchString(sentence) {
			claims = append(claims, sentence)
		}
	}
	return claims
}
