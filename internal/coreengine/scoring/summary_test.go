package scoring

import (
	"errors"
	"math"
	"testing"

	"asr-eval-driver/internal/models"
)

const computeWEROutput = `utt: BAC009S0764W0121
WER: 0.00 % N=14 C=14 S=0 D=0 I=0
lab: 甚 至 出 现 交 易 几 乎 停 滞 的 情 况
rec: 甚 至 出 现 交 易 几 乎 停 滞 的 情 况

===========================================================================
Overall -> 4.10 % N=104765 C=100655 S=3885 D=225 I=187
Mandarin -> 4.10 % N=104765 C=100655 S=3885 D=225 I=187
Other -> 0.00 % N=0 C=0 S=0 D=0 I=0
===========================================================================
`

func TestParseSummaryOverall(t *testing.T) {
	rate, counts, err := ParseSummary([]byte(computeWEROutput))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if math.Abs(rate-0.041) > 1e-9 {
		t.Fatalf("expected rate 0.041, got %v", rate)
	}
	want := models.ErrorCounts{N: 104765, C: 100655, S: 3885, D: 225, I: 187}
	if counts != want {
		t.Fatalf("expected %+v, got %+v", want, counts)
	}
}

func TestParseSummaryFallsBackToLastUtterance(t *testing.T) {
	out := "WER: 0.00 % N=3 C=3 S=0 D=0 I=0\nWER: 50.00 % N=2 C=1 S=1 D=0 I=0\n"
	rate, counts, err := ParseSummary([]byte(out))
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.5 || counts.S != 1 {
		t.Fatalf("expected last utterance summary, got %v %+v", rate, counts)
	}
}

func TestParseSummaryMissing(t *testing.T) {
	_, _, err := ParseSummary([]byte("Traceback (most recent call last):\n"))
	if !errors.Is(err, ErrNoSummary) {
		t.Fatalf("expected ErrNoSummary, got %v", err)
	}
}

func TestFormatSummaryRoundTrip(t *testing.T) {
	counts := models.ErrorCounts{N: 10, C: 9, D: 1}
	rate, parsed, err := ParseSummary([]byte(FormatSummary(counts)))
	if err != nil {
		t.Fatal(err)
	}
	if parsed != counts || math.Abs(rate-0.1) > 1e-9 {
		t.Fatalf("round trip mismatch: %v %+v", rate, parsed)
	}
}
