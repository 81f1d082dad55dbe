package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

type flakyModel struct {
	failures int
	calls    int
	hint     adapter.RetryHint
}

func (m *flakyModel) Generate(_ context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	m.calls++
	if m.calls <= m.failures {
		return adapter.GenerateResult{}, errors.New("flaky")
	}
	return adapter.GenerateResult{Text: "ok"}, nil
}

func (m *flakyModel) Stream(_ context.Context, _ adapter.GenerateRequest, yield func(adapter.Chunk) error) error {
	m.calls++
	if err := yield(adapter.Chunk{Text: "partial"}); err != nil {
		return err
	}
	return errors.New("dropped")
}

func (m *flakyModel) RetryHint(string) adapter.RetryHint { return m.hint }

type echoTool struct{ calls int }

func (e *echoTool) Name() string { return "echo" }

func (e *echoTool) Execute(_ context.Context, input map[string]any) (any, error) {
	e.calls++
	if e.calls == 1 {
		return nil, Mark(errors.New("throttled"), ReasonRateLimit)
	}
	return input["value"], nil
}

func TestWrapBundleUsesAdapterHint(t *testing.T) {
	inner := &flakyModel{failures: 2, hint: adapter.RetryHint{Retryable: true, MaxAttempts: 3}}
	bundle := WrapBundle(adapter.Bundle{Model: inner}, NewWrapper(nil, WithSleeper(noSleep)))
	res, err := bundle.Model.Generate(context.Background(), adapter.GenerateRequest{})
	if err != nil || res.Text != "ok" {
		t.Fatalf("expected success after retries, got %v %v", res, err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}

func TestWrapBundlePauseModeReturnsSignal(t *testing.T) {
	inner := &flakyModel{failures: 10}
	w := NewWrapper(Patches{adapter.KindModel: {MaxAttempts: Attempts(2), Mode: As(ModePause)}}, WithSleeper(noSleep))
	bundle := WrapBundle(adapter.Bundle{Model: inner}, w)
	_, err := bundle.Model.Generate(context.Background(), adapter.GenerateRequest{Messages: []adapter.Message{{Role: "user", Content: "hi"}}})
	signal, ok := AsPause(err)
	if !ok {
		t.Fatalf("expected pause signal, got %v", err)
	}
	if signal.Request.AdapterKind != adapter.KindModel || signal.Request.Method != "generate" || signal.Request.Attempt != 2 {
		t.Fatalf("unexpected pause request: %+v", signal.Request)
	}
}

func TestWrapBundleStreamDoesNotRetryAfterDelivery(t *testing.T) {
	inner := &flakyModel{}
	w := NewWrapper(Patches{adapter.KindModel: {MaxAttempts: Attempts(3)}}, WithSleeper(noSleep))
	bundle := WrapBundle(adapter.Bundle{Model: inner}, w)
	var chunks []string
	err := bundle.Model.Stream(context.Background(), adapter.GenerateRequest{}, func(c adapter.Chunk) error {
		chunks = append(chunks, c.Text)
		return nil
	})
	if err == nil || inner.calls != 1 || len(chunks) != 1 {
		t.Fatalf("stream should fail once without retry: err=%v calls=%d chunks=%v", err, inner.calls, chunks)
	}
}

func TestWrapBundleToolsKeepNames(t *testing.T) {
	echo := &echoTool{}
	w := NewWrapper(Patches{adapter.KindTools: {MaxAttempts: Attempts(2)}}, WithSleeper(noSleep))
	bundle := WrapBundle(adapter.Bundle{Tools: []adapter.Tool{echo}}, w)
	tool, ok := bundle.Tool("echo")
	if !ok {
		t.Fatalf("wrapped tool should keep its name")
	}
	out, err := tool.Execute(context.Background(), map[string]any{"value": "pong"})
	if err != nil || out != "pong" || echo.calls != 2 {
		t.Fatalf("unexpected tool result: out=%v err=%v calls=%d", out, err, echo.calls)
	}
}
