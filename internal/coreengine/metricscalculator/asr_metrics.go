package metricscalculator

import (
	"fmt"
	"strings"
	"unicode"

	"asr-eval-driver/internal/models"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Substitutions, insertions and deletions all cost one edit.
var alignOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Tokenize splits text into scoring units. At character level every
// non-whitespace rune is a token; otherwise tokens are whitespace-separated words.
func Tokenize(text string, charLevel bool) []string {
	if !charLevel {
		return strings.Fields(text)
	}
	tokens := make([]string, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		tokens = append(tokens, string(r))
	}
	return tokens
}

// Align computes the S/D/I breakdown between a reference and a hypothesis token
// sequence. Tokens are interned to runes so the rune-based edit script can be
// reused for words.
func Align(reference, hypothesis []string) models.ErrorCounts {
	vocab := make(map[string]rune, len(reference)+len(hypothesis))
	src := internTokens(reference, vocab)
	dst := internTokens(hypothesis, vocab)

	counts := models.ErrorCounts{N: len(reference)}
	for _, op := range levenshtein.EditScriptForStrings(src, dst, alignOptions) {
		switch op {
		case levenshtein.Match:
			counts.C++
		case levenshtein.Sub:
			counts.S++
		case levenshtein.Del:
			counts.D++
		case levenshtein.Ins:
			counts.I++
		}
	}
	return counts
}

func internTokens(tokens []string, vocab map[string]rune) []rune {
	out := make([]rune, len(tokens))
	for i, tok := range tokens {
		r, ok := vocab[tok]
		if !ok {
			r = rune(len(vocab) + 1)
			vocab[tok] = r
		}
		out[i] = r
	}
	return out
}

// CalculateWER calculates the Word Error Rate (WER).
// WER = (Substitutions + Insertions + Deletions) / Number of words in reference
func CalculateWER(groundTruth string, recognizedText string) (float64, error) {
	return errorRate(Tokenize(groundTruth, false), Tokenize(recognizedText, false), "words")
}

// CalculateCER calculates the Character Error Rate (CER) over non-whitespace characters.
func CalculateCER(groundTruth string, recognizedText string) (float64, error) {
	return errorRate(Tokenize(groundTruth, true), Tokenize(recognizedText, true), "chars")
}

func errorRate(ref, hyp []string, unit string) (float64, error) {
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0.0, nil
		}
		// Every recognized token is an insertion against an empty reference.
		return 1.0, fmt.Errorf("ground truth is empty, cannot normalize (recognized: %d %s, treated as 100%% error)", len(hyp), unit)
	}
	return Align(ref, hyp).Rate(), nil
}
