package metricscalculator

import (
	"math"
	"testing"

	"asr-eval-driver/internal/models"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		hyp  string
		char bool
		want models.ErrorCounts
	}{
		{"identical words", "hello world", "hello world", false, models.ErrorCounts{N: 2, C: 2}},
		{"word substitution", "hello world", "helo world", false, models.ErrorCounts{N: 2, C: 1, S: 1}},
		{"char deletion", "hello world", "helo world", true, models.ErrorCounts{N: 10, C: 9, D: 1}},
		{"char insertion", "abc", "abxc", true, models.ErrorCounts{N: 3, C: 3, I: 1}},
		{"word deletion and insertion", "a b c", "b c d", false, models.ErrorCounts{N: 3, C: 2, D: 1, I: 1}},
		{"empty hypothesis", "a b", "", false, models.ErrorCounts{N: 2, D: 2}},
		{"both empty", "", "", false, models.ErrorCounts{}},
		{"cjk chars", "今天天气", "今天天汽", true, models.ErrorCounts{N: 4, C: 3, S: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Align(Tokenize(tt.ref, tt.char), Tokenize(tt.hyp, tt.char))
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestCalculateCER(t *testing.T) {
	cer, err := CalculateCER("hello world", "hello world")
	if err != nil || cer != 0 {
		t.Fatalf("expected 0 CER, got %v (%v)", cer, err)
	}
	cer, err = CalculateCER("hello world", "helo world")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(cer-0.1) > 1e-9 {
		t.Fatalf("expected CER 0.1, got %v", cer)
	}
}

func TestCalculateWER(t *testing.T) {
	wer, err := CalculateWER("the cat sat", "the cat sat down")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(wer-1.0/3.0) > 1e-9 {
		t.Fatalf("expected WER 1/3, got %v", wer)
	}
	wer, err = CalculateWER("", "")
	if err != nil || wer != 0 {
		t.Fatalf("expected 0 for empty pair, got %v (%v)", wer, err)
	}
	wer, err = CalculateWER("", "noise")
	if err == nil || wer != 1.0 {
		t.Fatalf("expected 1.0 with error for empty reference, got %v (%v)", wer, err)
	}
}
