package validation

import (
	"strings"
	"unicode"
)

// gradeFalloff is how many grade levels outside the target band drop the
// score from 1 to 0, linearly.
const gradeFalloff = 4.0

// scoreReadability computes the Flesch-Kincaid grade level of the draft and
// maps it into [0,1] against the configured target band: 1 inside the band,
// decaying linearly with distance outside it.
func scoreReadability(text string, band ReadabilityBand) float64 {
	grade := fleschKincaidGrade(text)

	minGrade := band.MinGrade
	maxGrade := band.MaxGrade
	if maxGrade <= 0 {
		maxGrade = 12
	}

	var distance float64
	switch {
	case grade < minGrade:
		distance = minGrade - grade
	case grade > maxGrade:
		distance = grade - maxGrade
	default:
		return 1
	}

	return clamp01(1 - distance/gradeFalloff)
}

// fleschKincaidGrade implements the standard grade-level formula:
// 0.39*(words/sentences) + 11.8*(syllables/words) - 15.59
func fleschKincaidGrade(text string) float64 {
	words := splitWords(text)
	if len(words) == 0 {
		return 0
	}

	sentences := countSentences(text)
	if sentences == 0 {
		sentences = 1
	}

	syllables := 0
	for _, word := range words {
		syllables += countSyllables(word)
	}

	grade := 0.39*(float64(len(words))/float64(sentences)) +
		11.8*(float64(syllables)/float64(len(words))) - 15.59
	if grade < 0 {
		return 0
	}
	return grade
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}

// countSyllables approximates syllable count by counting vowel groups,
// discounting a trailing silent e.
func countSyllables(word string) int {
	word = strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if strings.HasSuffix(word, "e") && count > 1 && !strings.HasSuffix(word, "le") {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}
