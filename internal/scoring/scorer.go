// Package scoring turns a session's answers into points and a human score.
// The persona engine owns the real judgement; this package defines the seam
// and a deterministic heuristic used when no engine is configured.
package scoring

import (
	"strings"
	"unicode"

	"github.com/open-builders/points-backend/internal/domain/profile"
)

// Score is the result of scoring one session.
type Score struct {
	PointsEarned int
	HumanScore   int
}

// Scorer scores a full set of session answers.
type Scorer interface {
	Score(answers []profile.Answer) Score
}

const (
	pointsPerAnswer   = 50
	pointsPerWord     = 2
	maxWordsPerAnswer = 100
	// Answers at or above this many words count as fully reflective.
	reflectiveWords = 40
)

// Heuristic rewards answered questions and answer depth.
type Heuristic struct{}

func (Heuristic) Score(answers []profile.Answer) Score {
	var s Score
	answered := 0
	depth := 0
	for _, a := range answers {
		words := countWords(a.AnswerText)
		if words == 0 {
			continue
		}
		answered++
		if words > maxWordsPerAnswer {
			words = maxWordsPerAnswer
		}
		s.PointsEarned += pointsPerAnswer + words*pointsPerWord

		d := words * 100 / reflectiveWords
		if d > 100 {
			d = 100
		}
		depth += d
	}
	if answered > 0 {
		s.HumanScore = depth / answered
	}
	return s
}

func countWords(text string) int {
	return len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}
