package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/pause"
	"github.com/kingrea/lattice-recipes/internal/plugin"
	"github.com/kingrea/lattice-recipes/internal/retry"
	"github.com/kingrea/lattice-recipes/internal/sessionstore"
	"github.com/kingrea/lattice-recipes/internal/step"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func noSleep(context.Context, time.Duration) error { return nil }

// scriptedModel fails its first failures calls with an unavailable error.
type scriptedModel struct {
	mu       sync.Mutex
	calls    int
	failures int
	text     string
}

func (m *scriptedModel) Generate(_ context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return adapter.GenerateResult{}, retry.Mark(errors.New("upstream unavailable"), retry.ReasonUnavailable)
	}
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}
	return adapter.GenerateResult{Text: m.text + ":" + prompt}, nil
}

func (m *scriptedModel) Stream(ctx context.Context, req adapter.GenerateRequest, yield func(adapter.Chunk) error) error {
	result, err := m.Generate(ctx, req)
	if err != nil {
		return err
	}
	return yield(adapter.Chunk{Text: result.Text, Done: true})
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func set(key string, value any) step.Func {
	return func(_ context.Context, sc *step.Context) error {
		sc.State().Set(key, value)
		return nil
	}
}

func appendOrder(name string) step.Func {
	return func(_ context.Context, sc *step.Context) error {
		order, _ := sc.State()["order"].([]any)
		sc.State().Set("order", append(order, name))
		return nil
	}
}

// generate asks the bundle's model for prompt and stores the text under key.
func generate(key, prompt string) step.Func {
	return func(ctx context.Context, sc *step.Context) error {
		model := sc.Adapters().Model
		if model == nil {
			return errors.New("no model resolved")
		}
		result, err := model.Generate(ctx, adapter.GenerateRequest{
			Messages: []adapter.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return err
		}
		sc.State().Set(key, result.Text)
		return nil
	}
}

func packPlugin(key string, packs ...step.Pack) plugin.Plugin {
	return plugin.Plugin{Key: key, Packs: packs}
}

func build(t *testing.T, h *Handle) *Runtime {
	t.Helper()
	rt, err := h.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return rt
}

func newResumableHandle(t *testing.T, store pause.SessionStore, opts ...Option) *Handle {
	t.Helper()
	if store == nil {
		store = sessionstore.NewMemory()
	}
	base := []Option{
		WithClock(fixedClock),
		WithSleeper(noSleep),
		WithResume(pause.MergeInput{}, store),
	}
	return New("review", append(base, opts...)...)
}

func eventNames(events []diag.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.Name)
	}
	return names
}

func hasEvent(events []diag.Event, name string) bool {
	for _, event := range events {
		if event.Name == name {
			return true
		}
	}
	return false
}

func kinds(entries diag.Entries) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Kind)
	}
	return out
}

func persist(t *testing.T, out Outcome, store pause.SessionStore) {
	t.Helper()
	if err := out.Persist(context.Background(), store); err != nil {
		t.Fatalf("persist: %v", err)
	}
}
