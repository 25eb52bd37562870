package domain_test

import (
	"testing"

	"eval-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	t.Run("Lowercases and drops short tokens", func(t *testing.T) {
		tokens := domain.Tokenize("The Cat is ON the Mat")
		assert.Equal(t, []string{"the", "cat", "the", "mat"}, tokens)
	})

	t.Run("Strips punctuation", func(t *testing.T) {
		tokens := domain.Tokenize("hello, world! foo-bar")
		assert.Equal(t, []string{"hello", "world", "foo", "bar"}, tokens)
	})

	t.Run("Empty input yields no tokens", func(t *testing.T) {
		assert.Empty(t, domain.Tokenize(""))
		assert.Empty(t, domain.Tokenize("a b c"))
	})
}

func TestAnswerRelevancy(t *testing.T) {
	t.Run("Identical text scores high", func(t *testing.T) {
		score := domain.AnswerRelevancy("the quick brown fox", "the quick brown fox")
		assert.Greater(t, score, 0.9)
		assert.LessOrEqual(t, score, 1.0)
	})

	t.Run("Unrelated response scores low", func(t *testing.T) {
		score := domain.AnswerRelevancy(
			"explain photosynthesis process",
			"football season starts tomorrow evening",
		)
		assert.Less(t, score, 0.31)
	})

	t.Run("Empty sides score zero", func(t *testing.T) {
		assert.Equal(t, 0.0, domain.AnswerRelevancy("", "some response"))
		assert.Equal(t, 0.0, domain.AnswerRelevancy("some query", ""))
		assert.Equal(t, 0.0, domain.AnswerRelevancy("", ""))
	})

	t.Run("Penalizes bloated responses", func(t *testing.T) {
		query := "name the largest planet"
		concise := "jupiter the largest planet"
		bloated := concise + " which orbits beyond mars alongside saturn uranus neptune " +
			"while countless asteroids comets moons dust particles drift between orbital planes"
		assert.Greater(t,
			domain.AnswerRelevancy(query, concise),
			domain.AnswerRelevancy(query, bloated))
	})

	t.Run("Stays in unit range", func(t *testing.T) {
		score := domain.AnswerRelevancy("alpha beta gamma", "alpha beta gamma delta")
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	})
}

func TestFaithfulness(t *testing.T) {
	t.Run("No context returns neutral prior", func(t *testing.T) {
		assert.Equal(t, 0.5, domain.Faithfulness("the sky is blue", nil))
		assert.Equal(t, 0.5, domain.Faithfulness("the sky is blue", []string{}))
	})

	t.Run("No extractable claims returns 1", func(t *testing.T) {
		score := domain.Faithfulness("hello there friend", []string{"context chunk here"})
		assert.Equal(t, 1.0, score)
	})

	t.Run("Supported claim verifies", func(t *testing.T) {
		response := "the reactor output is forty megawatts"
		context := []string{"engineers confirmed the reactor output is forty megawatts sustained"}
		assert.Equal(t, 1.0, domain.Faithfulness(response, context))
	})

	t.Run("Unsupported claim fails", func(t *testing.T) {
		response := "the bridge was built in 1923"
		context := []string{"local cuisine features fresh seafood and seasonal vegetables"}
		assert.Equal(t, 0.0, domain.Faithfulness(response, context))
	})

	t.Run("Polarity flip is a contradiction", func(t *testing.T) {
		response := "the vaccine is effective against the variant"
		context := []string{"studies found the vaccine is not effective against the variant"}
		assert.Equal(t, 0.0, domain.Faithfulness(response, context))
	})

	t.Run("Matching negation verifies", func(t *testing.T) {
		response := "the vaccine is not effective against the variant"
		context := []string{"studies found the vaccine is not effective against the variant"}
		assert.Equal(t, 1.0, domain.Faithfulness(response, context))
	})

	t.Run("Partial support is fractional", func(t *testing.T) {
		response := "the reactor output is forty megawatts. the bridge was built in 1923."
		context := []string{"engineers confirmed the reactor output is forty megawatts sustained"}
		assert.Equal(t, 0.5, domain.Faithfulness(response, context))
	})
}

func TestContextualPrecision(t *testing.T) {
	t.Run("Empty context scores 1", func(t *testing.T) {
		assert.Equal(t, 1.0, domain.ContextualPrecision("query", nil, "response"))
	})

	t.Run("All chunks relevant", func(t *testing.T) {
		score := domain.ContextualPrecision(
			"reactor output megawatts",
			[]string{"reactor output details", "megawatts measured output"},
			"the reactor produces forty megawatts",
		)
		assert.Equal(t, 1.0, score)
	})

	t.Run("Irrelevant chunk lowers precision", func(t *testing.T) {
		score := domain.ContextualPrecision(
			"reactor output megawatts",
			[]string{"reactor output details", "seasonal seafood cuisine vegetables"},
			"the reactor produces forty megawatts",
		)
		assert.Equal(t, 0.5, score)
	})
}

func TestContextualRecall(t *testing.T) {
	t.Run("Empty context scores 1", func(t *testing.T) {
		assert.Equal(t, 1.0, domain.ContextualRecall("query", nil, "response"))
	})

	t.Run("No relevant chunks scores 1", func(t *testing.T) {
		score := domain.ContextualRecall(
			"reactor output megawatts",
			[]string{"seasonal seafood cuisine vegetables"},
			"the reactor produces forty megawatts",
		)
		assert.Equal(t, 1.0, score)
	})

	t.Run("Used relevant chunk counts", func(t *testing.T) {
		score := domain.ContextualRecall(
			"reactor output megawatts",
			[]string{"reactor output megawatts measured"},
			"the reactor output is forty megawatts",
		)
		assert.Equal(t, 1.0, score)
	})

	t.Run("Unused relevant chunk lowers recall", func(t *testing.T) {
		score := domain.ContextualRecall(
			"reactor output megawatts turbine blades",
			[]string{
				"reactor output megawatts measured",
				"turbine blades inspection schedule maintenance",
			},
			"the reactor output is forty megawatts",
		)
		assert.Equal(t, 0.5, score)
	})
}

func TestMetricsRanges(t *testing.T) {
	// Every metric must stay in [0,1] across assorted degenerate inputs.
	queries := []string{"", "a", "what is the answer", "12 + 34 = ?"}
	responses := []string{"", "yes", "the answer is 42 because mathematics"}
	contexts := [][]string{nil, {}, {""}, {"the answer is 42"}, {"unrelated text entirely", "more filler"}}

	for _, q := range queries {
		for _, r := range responses {
			for _, c := range contexts {
				for name, score := range map[string]float64{
					"relevancy":    domain.AnswerRelevancy(q, r),
					"faithfulness": domain.Faithfulness(r, c),
					"precision":    domain.ContextualPrecision(q, c, r),
					"recall":       domain.ContextualRecall(q, c, r),
				} {
					assert.GreaterOrEqual(t, score, 0.0, name)
					assert.LessOrEqual(t, score, 1.0, name)
				}
			}
		}
	}
}
