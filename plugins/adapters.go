package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

// DefaultAdapters returns a registry holding the offline adapter factories
// used for local dry runs:
//
//	static-model      replies with config.text
//	echo-model        replies with the last message content
//	static-retriever  returns config.documents whose text contains the query
//	documents         supplies config.documents as the documents construct
func DefaultAdapters() *Adapters {
	adapters := NewAdapters()
	adapters.MustRegister("static-model", newStaticModel)
	adapters.MustRegister("echo-model", newEchoModel)
	adapters.MustRegister("static-retriever", newStaticRetriever)
	adapters.MustRegister("documents", newDocuments)
	return adapters
}

type staticModel struct {
	reply func(req adapter.GenerateRequest) string
}

var _ adapter.Model = (*staticModel)(nil)

func newStaticModel(cfg map[string]any) (any, error) {
	text, err := requiredString(cfg, "text")
	if err != nil {
		return nil, err
	}
	return &staticModel{reply: func(adapter.GenerateRequest) string { return text }}, nil
}

func newEchoModel(cfg map[string]any) (any, error) {
	prefix := optionalString(cfg, "prefix", "")
	return &staticModel{reply: func(req adapter.GenerateRequest) string {
		if len(req.Messages) == 0 {
			return prefix
		}
		return prefix + req.Messages[len(req.Messages)-1].Content
	}}, nil
}

func (m *staticModel) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return adapter.GenerateResult{}, err
	}
	return adapter.GenerateResult{Text: m.reply(req)}, nil
}

func (m *staticModel) Stream(ctx context.Context, req adapter.GenerateRequest, yield func(adapter.Chunk) error) error {
	result, err := m.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := yield(adapter.Chunk{Text: result.Text}); err != nil {
		return err
	}
	return yield(adapter.Chunk{Done: true})
}

type staticRetriever struct {
	docs []adapter.Document
}

var _ adapter.Retriever = (*staticRetriever)(nil)

func newStaticRetriever(cfg map[string]any) (any, error) {
	docs, err := documentList(cfg)
	if err != nil {
		return nil, err
	}
	return &staticRetriever{docs: docs}, nil
}

func (r *staticRetriever) Retrieve(ctx context.Context, query string) ([]adapter.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []adapter.Document
	for _, doc := range r.docs {
		if needle == "" || strings.Contains(strings.ToLower(doc.Text), needle) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func newDocuments(cfg map[string]any) (any, error) {
	docs, err := documentList(cfg)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []adapter.Document{}
	}
	return docs, nil
}

func documentList(cfg map[string]any) ([]adapter.Document, error) {
	raw, ok := cfg["documents"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("documents must be a list")
	}
	docs := make([]adapter.Document, 0, len(items))
	for idx, item := range items {
		switch value := item.(type) {
		case string:
			docs = append(docs, adapter.Document{ID: fmt.Sprintf("doc-%d", idx+1), Text: value})
		case map[string]any:
			text, _ := value["text"].(string)
			id, _ := value["id"].(string)
			if id == "" {
				id = fmt.Sprintf("doc-%d", idx+1)
			}
			docs = append(docs, adapter.Document{ID: id, Text: text})
		default:
			return nil, fmt.Errorf("documents[%d] must be a string or a map", idx)
		}
	}
	return docs, nil
}
