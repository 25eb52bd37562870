package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const featureCacheSize = 512

// domainKeywords drives domain classification. Categories are evaluated in
// slice order; the first category with a keyword hit wins, and queries with
// no hit classify as general. The keyword sets are closed: changing them
// changes the stats bucketing of every downstream consumer.
var domainKeywords = []struct {
	domain   Domain
	keywords []string
}{
	{DomainCode, []string{
		"function", "code", "class", "algorithm", "compile", "debug",
		"implement", "refactor", "syntax", "api", "bug", "regex",
	}},
	{DomainCreative, []string{
		"story", "poem", "creative", "imagine", "fiction", "novel",
		"lyrics", "character",
	}},
	{DomainReasoning, []string{
		"why", "prove", "logic", "deduce", "reason", "therefore",
		"puzzle", "solve",
	}},
	{DomainAnalysis, []string{
		"analyze", "analyse", "compare", "evaluate", "summarize",
		"assess", "trend", "statistics",
	}},
}

// complexityDomainWeight biases the complexity score by domain. Code and
// reasoning queries are structurally harder for providers than general chat.
var complexityDomainWeight = map[Domain]float64{
	DomainCode:      1.0,
	DomainReasoning: 0.9,
	DomainAnalysis:  0.8,
	DomainCreative:  0.6,
	DomainGeneral:   0.4,
}

var (
	mathDelimiterRe = regexp.MustCompile(`\$[^$]+\$|\\\(|\\\[`)
	mathOperatorRe  = regexp.MustCompile(`\d\s*[+\-*/^=]\s*\d`)
	maxCostRe       = regexp.MustCompile(`(?i)max\s*cost:?\s*\$?([0-9]*\.?[0-9]+)`)
	minQualityRe    = regexp.MustCompile(`(?i)min\s*quality:?\s*([0-9]*\.?[0-9]+)`)
	maxLatencyRe    = regexp.MustCompile(`(?i)max\s*latency:?\s*([0-9]+)\s*(ms|s)\b`)
)

// FeatureExtractor derives deterministic QueryFeatures from raw query text.
// Extraction is pure: identical input always yields identical output, which
// makes the LRU cache a transparent optimization.
type FeatureExtractor struct {
	cache *lru.Cache[string, QueryFeatures]
}

// NewFeatureExtractor constructs an extractor with its feature cache.
func NewFeatureExtractor() *FeatureExtractor {
	cache, _ := lru.New[string, QueryFeatures](featureCacheSize)
	return &FeatureExtractor{cache: cache}
}

// Extract computes the features of a single query.
func (e *FeatureExtractor) Extract(query string) QueryFeatures {
	if cached, ok := e.cache.Get(query); ok {
		return cached
	}

	f := QueryFeatures{
		TokenCount:   len(strings.Fields(query)),
		LineCount:    lineCount(query),
		MaxDepth:     maxBraceDepth(query),
		HasCodeBlock: strings.Count(query, "```") >= 2,
		HasMath:      hasMath(query),
		Domain:       classifyDomain(query),
		Hints:        extractHints(query),
	}
	f.ComplexityScore = complexityScore(f.TokenCount, f.MaxDepth, f.Domain)

	e.cache.Add(query, f)
	return f
}

// ExtractBatch extracts features for every query, preserving input order.
func (e *FeatureExtractor) ExtractBatch(queries []string) []QueryFeatures {
	features := make([]QueryFeatures, len(queries))
	for i, q := range queries {
		features[i] = e.Extract(q)
	}
	return features
}

// Similarity returns the Jaccard overlap of the two queries' token sets,
// in [0,1]. Two empty queries are identical by convention.
func (e *FeatureExtractor) Similarity(a, b string) float64 {
	setA := fieldSet(a)
	setB := fieldSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func lineCount(s string) int {
	// Minimum of 1 even for an empty string.
	return strings.Count(s, "\n") + 1
}

func maxBraceDepth(s string) int {
	depth, max := 0, 0
	for _, r := range s {
		switch r {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}

func hasMath(s string) bool {
	return mathDelimiterRe.MatchString(s) || mathOperatorRe.MatchString(s)
}

func classifyDomain(query string) Domain {
	q := strings.ToLower(query)
	for _, cat := range domainKeywords {
		for _, kw := range cat.keywords {
			if strings.Contains(q, kw) {
				return cat.domain
			}
		}
	}
	return DomainGeneral
}

// complexityScore combines token count, nesting depth and domain into [0,1].
// It is monotonic in token count and depth for a fixed domain.
func complexityScore(tokens, depth int, dom Domain) float64 {
	tokenTerm := float64(tokens) / 200.0
	if tokenTerm > 1 {
		tokenTerm = 1
	}
	depthTerm := float64(depth) / 5.0
	if depthTerm > 1 {
		depthTerm = 1
	}
	return 0.5*tokenTerm + 0.3*depthTerm + 0.2*complexityDomainWeight[dom]
}

func extractHints(query string) QueryHints {
	var hints QueryHints
	if m := maxCostRe.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			hints.MaxCost = &v
		}
	}
	if m := minQualityRe.FindStringSubmatch(query); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			hints.MinQuality = &v
		}
	}
	if m := maxLatencyRe.FindStringSubmatch(query); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			unit := time.Millisecond
			if m[2] == "s" {
				unit = time.Second
			}
			d := time.Duration(v) * unit
			hints.MaxLatency = &d
		}
	}
	return hints
}

func fieldSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
