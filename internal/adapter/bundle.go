package adapter

import (
	"context"

	"github.com/kingrea/lattice-recipes/internal/diag"
)

// Bundle holds one slot per construct. Nil slots are unresolved.
type Bundle struct {
	Model       Model
	Retriever   Retriever
	Embedder    Embedder
	Reranker    Reranker
	Tools       []Tool
	VectorStore VectorStore
	Memory      Memory
	Documents   []Document
}

// Merge returns b with every construct set in override replacing b's slot
// wholesale. Tools and Documents are presence flags: a non-nil override list
// replaces the base list and is never merged into it.
func (b Bundle) Merge(override Bundle) Bundle {
	out := b
	if override.Model != nil {
		out.Model = override.Model
	}
	if override.Retriever != nil {
		out.Retriever = override.Retriever
	}
	if override.Embedder != nil {
		out.Embedder = override.Embedder
	}
	if override.Reranker != nil {
		out.Reranker = override.Reranker
	}
	if override.Tools != nil {
		out.Tools = append([]Tool(nil), override.Tools...)
	}
	if override.VectorStore != nil {
		out.VectorStore = override.VectorStore
	}
	if override.Memory != nil {
		out.Memory = override.Memory
	}
	if override.Documents != nil {
		out.Documents = append([]Document(nil), override.Documents...)
	}
	return out
}

// Has reports whether the construct slot is populated.
func (b Bundle) Has(kind Kind) bool {
	switch kind {
	case KindModel:
		return b.Model != nil
	case KindRetriever:
		return b.Retriever != nil
	case KindEmbedder:
		return b.Embedder != nil
	case KindReranker:
		return b.Reranker != nil
	case KindTools:
		return b.Tools != nil
	case KindVectorStore:
		return b.VectorStore != nil
	case KindMemory:
		return b.Memory != nil
	case KindDocuments:
		return b.Documents != nil
	default:
		return false
	}
}

// Get returns the adapter in a construct slot, or nil.
func (b Bundle) Get(kind Kind) any {
	switch kind {
	case KindModel:
		if b.Model != nil {
			return b.Model
		}
	case KindRetriever:
		if b.Retriever != nil {
			return b.Retriever
		}
	case KindEmbedder:
		if b.Embedder != nil {
			return b.Embedder
		}
	case KindReranker:
		if b.Reranker != nil {
			return b.Reranker
		}
	case KindTools:
		if b.Tools != nil {
			return b.Tools
		}
	case KindVectorStore:
		if b.VectorStore != nil {
			return b.VectorStore
		}
	case KindMemory:
		if b.Memory != nil {
			return b.Memory
		}
	case KindDocuments:
		if b.Documents != nil {
			return b.Documents
		}
	}
	return nil
}

// Set assigns instance to the construct slot when its type fits. It reports
// whether the assignment happened.
func (b *Bundle) Set(kind Kind, instance any) bool {
	switch kind {
	case KindModel:
		if v, ok := instance.(Model); ok {
			b.Model = v
			return true
		}
	case KindRetriever:
		if v, ok := instance.(Retriever); ok {
			b.Retriever = v
			return true
		}
	case KindEmbedder:
		if v, ok := instance.(Embedder); ok {
			b.Embedder = v
			return true
		}
	case KindReranker:
		if v, ok := instance.(Reranker); ok {
			b.Reranker = v
			return true
		}
	case KindTools:
		switch v := instance.(type) {
		case []Tool:
			b.Tools = append([]Tool(nil), v...)
			return true
		case Tool:
			b.Tools = []Tool{v}
			return true
		}
	case KindVectorStore:
		if v, ok := instance.(VectorStore); ok {
			b.VectorStore = v
			return true
		}
	case KindMemory:
		if v, ok := instance.(Memory); ok {
			b.Memory = v
			return true
		}
	case KindDocuments:
		if v, ok := instance.([]Document); ok {
			b.Documents = append([]Document(nil), v...)
			return true
		}
	}
	return false
}

// Present lists the populated construct kinds in stable order.
func (b Bundle) Present() []Kind {
	var kinds []Kind
	for _, kind := range Kinds() {
		if b.Has(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Tool returns the tool registered under name.
func (b Bundle) Tool(name string) (Tool, bool) {
	for _, tool := range b.Tools {
		if tool != nil && tool.Name() == name {
			return tool, true
		}
	}
	return nil, false
}

// Reporter receives diagnostics emitted inline by adapter calls.
type Reporter interface {
	Report(entries ...diag.Entry)
}

type reporterKey struct{}

// WithReporter returns a context that carries r for adapter calls.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey{}, r)
}

// Report emits diagnostics through the reporter carried by ctx. It is a
// no-op when ctx carries none.
func Report(ctx context.Context, entries ...diag.Entry) {
	if ctx == nil {
		return
	}
	if r, ok := ctx.Value(reporterKey{}).(Reporter); ok && r != nil {
		r.Report(entries...)
	}
}
