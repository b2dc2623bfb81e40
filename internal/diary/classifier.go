package diary

import (
	"strings"
	"unicode"
)

// EditKind tells how an amendment relates to the draft it amends.
type EditKind int

const (
	// EditAddition extends the original description.
	EditAddition EditKind = iota
	// EditCorrection replaces the original recognition.
	EditCorrection
)

func (k EditKind) String() string {
	if k == EditCorrection {
		return "correction"
	}
	return "addition"
}

// Classifier decides whether an amendment corrects or extends a draft.
type Classifier interface {
	Classify(amendment string) EditKind
}

// KeywordClassifier treats negations and "that's actually" phrasing as corrections.
type KeywordClassifier struct{}

var (
	correctionWords     = []string{"не", "нет"}
	correctionFragments = []string{"ошиб", "неправильно", "на самом деле", "это "}
)

// Classify implements Classifier.
func (KeywordClassifier) Classify(amendment string) EditKind {
	text := strings.ToLower(amendment)

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		for _, cw := range correctionWords {
			if w == cw {
				return EditCorrection
			}
		}
	}

	for _, f := range correctionFragments {
		if strings.Contains(text, f) {
			return EditCorrection
		}
	}
	return EditAddition
}
