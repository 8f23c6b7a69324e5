package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"asr-eval-driver/internal/models"
)

// ErrNoSummary is returned when scorer output carries no error-rate line.
var ErrNoSummary = errors.New("no error rate summary in scorer output")

var (
	overallRe = regexp.MustCompile(`(?m)^\s*Overall\s*->\s*([0-9]+(?:\.[0-9]+)?)\s*%\s*N=(\d+)\s+C=(\d+)\s+S=(\d+)\s+D=(\d+)\s+I=(\d+)`)
	perUttRe  = regexp.MustCompile(`(?m)^\s*WER:\s*([0-9]+(?:\.[0-9]+)?)\s*%\s*N=(\d+)\s+C=(\d+)\s+S=(\d+)\s+D=(\d+)\s+I=(\d+)`)
)

// ParseSummary extracts the overall error rate from compute-wer style output:
//
//	Overall -> 4.10 % N=104765 C=100655 S=3885 D=225 I=187
//
// When there is no Overall line the last per-utterance "WER:" line is used.
// The returned rate is a fraction.
func ParseSummary(out []byte) (float64, models.ErrorCounts, error) {
	m := overallRe.FindSubmatch(out)
	if m == nil {
		all := perUttRe.FindAllSubmatch(out, -1)
		if len(all) == 0 {
			return 0, models.ErrorCounts{}, ErrNoSummary
		}
		m = all[len(all)-1]
	}
	pct, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, models.ErrorCounts{}, fmt.Errorf("parse error rate %q: %w", m[1], err)
	}
	var nums [5]int
	for i := range nums {
		n, err := strconv.Atoi(string(m[i+2]))
		if err != nil {
			return 0, models.ErrorCounts{}, fmt.Errorf("parse count %q: %w", m[i+2], err)
		}
		nums[i] = n
	}
	counts := models.ErrorCounts{N: nums[0], C: nums[1], S: nums[2], D: nums[3], I: nums[4]}
	return pct / 100, counts, nil
}

// FormatSummary renders counts in the same layout ParseSummary reads.
func FormatSummary(counts models.ErrorCounts) string {
	return fmt.Sprintf("Overall -> %.2f %% N=%d C=%d S=%d D=%d I=%d", counts.Rate()*100, counts.N, counts.C, counts.S, counts.D, counts.I)
}

func formatUtterance(key string, counts models.ErrorCounts, ref, hyp string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "utt: %s\n", key)
	fmt.Fprintf(&b, "WER: %.2f %% N=%d C=%d S=%d D=%d I=%d\n", counts.Rate()*100, counts.N, counts.C, counts.S, counts.D, counts.I)
	fmt.Fprintf(&b, "lab: %s\n", ref)
	fmt.Fprintf(&b, "rec: %s\n\n", hyp)
	return b.String()
}
