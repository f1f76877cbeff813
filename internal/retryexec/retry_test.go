package retryexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rigup-org/rigup/internal/logging"
)

func newTestExecutor(policy Policy, prompter Prompter) *Executor {
	return &Executor{
		Policy:   policy,
		Prompter: prompter,
		Sleep:    func(time.Duration) {},
		Log:      logging.Nop(),
	}
}

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	e := newTestExecutor(Policy{MaxAttempts: 3}, nil)
	attempts, err := e.Execute(context.Background(), "install comfyui", fn)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", attempts)
	}
}

func TestExecuteNonInteractiveStopsAtBound(t *testing.T) {
	calls := 0
	fn := func(context.Context) error {
		calls++
		return errors.New("permanent")
	}

	e := newTestExecutor(Policy{MaxAttempts: 3}, nil)
	attempts, err := e.Execute(context.Background(), "install", fn)
	if err == nil {
		t.Fatalf("expected failure, got nil")
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

type fixedPrompter struct {
	answers []bool
	asked   int
}

func (p *fixedPrompter) RetryAgain(string, int) bool {
	if p.asked >= len(p.answers) {
		return false
	}
	ans := p.answers[p.asked]
	p.asked++
	return ans
}

func TestExecuteInteractiveResetsWindow(t *testing.T) {
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("transient")
		}
		return nil
	}

	p := &fixedPrompter{answers: []bool{true}}
	e := newTestExecutor(Policy{MaxAttempts: 3, Interactive: true}, p)
	attempts, err := e.Execute(context.Background(), "install", fn)
	if err != nil {
		t.Fatalf("expected success after operator retry, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 total attempts, got %d", attempts)
	}
	if p.asked != 1 {
		t.Fatalf("expected one prompt, got %d", p.asked)
	}
}

func TestExecuteInteractiveDecline(t *testing.T) {
	fn := func(context.Context) error { return errors.New("nope") }

	p := &fixedPrompter{answers: []bool{false}}
	e := newTestExecutor(Policy{MaxAttempts: 2, Interactive: true}, p)
	attempts, err := e.Execute(context.Background(), "install", fn)
	if err == nil {
		t.Fatalf("expected failure after decline")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExecutor(Policy{MaxAttempts: 3}, nil)
	attempts, err := e.Execute(ctx, "install", func(context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 0 {
		t.Fatalf("expected no attempts on cancelled context, got %d", attempts)
	}
}

func TestStdioPrompterParsesAnswers(t *testing.T) {
	var out strings.Builder
	p := &StdioPrompter{In: strings.NewReader("y\n"), Out: &out}
	if !p.RetryAgain("install", 3) {
		t.Fatalf("expected yes answer")
	}
	if !strings.Contains(out.String(), "install") {
		t.Fatalf("expected prompt to name the action, got %q", out.String())
	}

	p = &StdioPrompter{In: strings.NewReader("\n"), Out: &out}
	if p.RetryAgain("install", 3) {
		t.Fatalf("expected default answer to be no")
	}
}
