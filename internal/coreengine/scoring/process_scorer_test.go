package scoring

import (
	"context"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"testing"
)

// TestHelperProcess is not a real test. It stands in for compute-wer when the
// scorer re-executes the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) > 0 {
		args = args[1:]
	}
	switch os.Getenv("HELPER_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "IOError: no such file")
		os.Exit(2)
	case "garbage":
		fmt.Println("nothing to see here")
	default:
		fmt.Printf("args: %s\n", strings.Join(args, " "))
		fmt.Println("Overall -> 10.00 % N=10 C=9 S=0 D=1 I=0")
	}
	os.Exit(0)
}

func helperScorer(mode string) *ProcessScorer {
	return &ProcessScorer{
		Command:   []string{os.Args[0], "-test.run=TestHelperProcess", "--"},
		CharLevel: true,
		Verbose:   true,
		Env:       []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
	}
}

func TestProcessScorerArgs(t *testing.T) {
	s := &ProcessScorer{Command: []string{"python3", "tools/compute-wer.py"}, CharLevel: true, Verbose: true}
	got := s.Args("data/test/text", "results/fp32/text")
	want := []string{"tools/compute-wer.py", "--char=1", "--v=1", "data/test/text", "results/fp32/text"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestProcessScorerParsesOutput(t *testing.T) {
	score, err := helperScorer("ok").Score(context.Background(), "ref.txt", "hyp.txt")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if math.Abs(score.ErrorRate-0.1) > 1e-9 || score.Counts.D != 1 {
		t.Fatalf("unexpected score %+v", score)
	}
	if !strings.Contains(string(score.Output), "--char=1 --v=1 ref.txt hyp.txt") {
		t.Fatalf("scorer did not receive expected args: %q", score.Output)
	}
}

func TestProcessScorerFailures(t *testing.T) {
	_, err := helperScorer("fail").Score(context.Background(), "ref.txt", "hyp.txt")
	if err == nil || !strings.Contains(err.Error(), "no such file") {
		t.Fatalf("expected exit error with stderr, got %v", err)
	}
	_, err = helperScorer("garbage").Score(context.Background(), "ref.txt", "hyp.txt")
	if err == nil || !strings.Contains(err.Error(), ErrNoSummary.Error()) {
		t.Fatalf("expected summary parse error, got %v", err)
	}
	if _, err := (&ProcessScorer{}).Score(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error for empty command")
	}
}
