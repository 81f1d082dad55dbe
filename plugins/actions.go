package plugins

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/kingrea/lattice-recipes/internal/adapter"
	"github.com/kingrea/lattice-recipes/internal/diag"
	"github.com/kingrea/lattice-recipes/internal/step"
)

// KindStateKeyMissing is reported by the require action.
const KindStateKeyMissing = "state_key_missing"

// DefaultActions returns a registry holding the built-in actions:
//
//	set       store a literal value under key
//	input     copy an input field into the state
//	generate  render a prompt and store the model's reply
//	retrieve  render a query and store the retrieved document texts
//	tool      call a named tool and store its result
//	pause     suspend the run with a reason and payload
//	require   warn when state keys are missing
func DefaultActions() *Actions {
	actions := NewActions()
	actions.MustRegister("set", newSetAction)
	actions.MustRegister("input", newInputAction)
	actions.MustRegister("generate", newGenerateAction)
	actions.MustRegister("retrieve", newRetrieveAction)
	actions.MustRegister("tool", newToolAction)
	actions.MustRegister("pause", newPauseAction)
	actions.MustRegister("require", newRequireAction)
	return actions
}

func newSetAction(with map[string]any) (step.Func, error) {
	key, err := requiredString(with, "key")
	if err != nil {
		return nil, err
	}
	value := with["value"]
	return func(_ context.Context, sc *step.Context) error {
		sc.State().Set(key, value)
		return nil
	}, nil
}

func newInputAction(with map[string]any) (step.Func, error) {
	from, err := requiredString(with, "from")
	if err != nil {
		return nil, err
	}
	key := optionalString(with, "key", from)
	return func(_ context.Context, sc *step.Context) error {
		value, ok := sc.Input()[from]
		if !ok {
			return fmt.Errorf("input %s is missing", from)
		}
		sc.State().Set(key, value)
		return nil
	}, nil
}

func newGenerateAction(with map[string]any) (step.Func, error) {
	key, err := requiredString(with, "key")
	if err != nil {
		return nil, err
	}
	prompt, err := parseTemplate("prompt", with)
	if err != nil {
		return nil, err
	}
	system := optionalString(with, "system", "")
	return func(ctx context.Context, sc *step.Context) error {
		model := sc.Adapters().Model
		if model == nil {
			return fmt.Errorf("no model resolved")
		}
		text, err := render(prompt, sc)
		if err != nil {
			return err
		}
		var messages []adapter.Message
		if system != "" {
			messages = append(messages, adapter.Message{Role: "system", Content: system})
		}
		messages = append(messages, adapter.Message{Role: "user", Content: text})
		result, err := model.Generate(ctx, adapter.GenerateRequest{Messages: messages})
		if err != nil {
			return err
		}
		sc.State().Set(key, result.Text)
		return nil
	}, nil
}

func newRetrieveAction(with map[string]any) (step.Func, error) {
	key, err := requiredString(with, "key")
	if err != nil {
		return nil, err
	}
	query, err := parseTemplate("query", with)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, sc *step.Context) error {
		retriever := sc.Adapters().Retriever
		if retriever == nil {
			return fmt.Errorf("no retriever resolved")
		}
		text, err := render(query, sc)
		if err != nil {
			return err
		}
		docs, err := retriever.Retrieve(ctx, text)
		if err != nil {
			return err
		}
		texts := make([]any, 0, len(docs))
		for _, doc := range docs {
			texts = append(texts, doc.Text)
		}
		sc.State().Set(key, texts)
		return nil
	}, nil
}

func newToolAction(with map[string]any) (step.Func, error) {
	name, err := requiredString(with, "tool")
	if err != nil {
		return nil, err
	}
	key := optionalString(with, "key", name)
	input, _ := with["input"].(map[string]any)
	return func(ctx context.Context, sc *step.Context) error {
		tool, ok := sc.Adapters().Tool(name)
		if !ok {
			return fmt.Errorf("tool %s is not available", name)
		}
		args := make(map[string]any, len(input))
		for k, v := range input {
			args[k] = v
		}
		result, err := tool.Execute(ctx, args)
		if err != nil {
			return err
		}
		sc.State().Set(key, result)
		return nil
	}, nil
}

func newPauseAction(with map[string]any) (step.Func, error) {
	strategy := step.Strategy(optionalString(with, "strategy", string(step.StrategyContinue)))
	switch strategy {
	case step.StrategyContinue, step.StrategyRestart:
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	reason := optionalString(with, "reason", "awaiting input")
	payload, _ := with["payload"].(map[string]any)
	return func(_ context.Context, sc *step.Context) error {
		copied := make(map[string]any, len(payload))
		for k, v := range payload {
			copied[k] = v
		}
		sc.Pause(step.Directive{Reason: reason, Payload: copied, Strategy: strategy})
		return nil
	}, nil
}

func newRequireAction(with map[string]any) (step.Func, error) {
	keys, err := stringList(with, "keys")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys is required")
	}
	return func(_ context.Context, sc *step.Context) error {
		for _, key := range keys {
			if _, ok := sc.State().Get(key); !ok {
				sc.Report(diag.Warn(KindStateKeyMissing, "state key %s is missing", key).With("step", sc.Step()))
			}
		}
		return nil
	}, nil
}

type templateData struct {
	Input map[string]any
	State step.State
}

func parseTemplate(field string, with map[string]any) (*template.Template, error) {
	text, err := requiredString(with, field)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(field).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, sc *step.Context) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, templateData{Input: sc.Input(), State: sc.State()}); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func requiredString(with map[string]any, field string) (string, error) {
	value, ok := with[field].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	return strings.TrimSpace(value), nil
}

func optionalString(with map[string]any, field, fallback string) string {
	if value, ok := with[field].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func stringList(with map[string]any, field string) ([]string, error) {
	switch value := with[field].(type) {
	case nil:
		return nil, nil
	case []string:
		return trimAll(value), nil
	case []any:
		out := make([]string, 0, len(value))
		for idx, item := range value {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", field, idx)
			}
			out = append(out, text)
		}
		return trimAll(out), nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", field)
	}
}
