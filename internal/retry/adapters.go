package retry

import (
	"context"

	"github.com/kingrea/lattice-recipes/internal/adapter"
)

// WrapBundle returns a bundle whose every adapter call runs through w.
// Documents are data and pass through untouched.
func WrapBundle(bundle adapter.Bundle, w *Wrapper) adapter.Bundle {
	out := adapter.Bundle{Documents: bundle.Documents}
	if bundle.Model != nil {
		out.Model = &model{inner: bundle.Model, w: w}
	}
	if bundle.Retriever != nil {
		out.Retriever = &retriever{inner: bundle.Retriever, w: w}
	}
	if bundle.Embedder != nil {
		out.Embedder = &embedder{inner: bundle.Embedder, w: w}
	}
	if bundle.Reranker != nil {
		out.Reranker = &reranker{inner: bundle.Reranker, w: w}
	}
	if bundle.Tools != nil {
		out.Tools = make([]adapter.Tool, 0, len(bundle.Tools))
		for _, t := range bundle.Tools {
			if t != nil {
				out.Tools = append(out.Tools, &tool{inner: t, w: w})
			}
		}
	}
	if bundle.VectorStore != nil {
		out.VectorStore = &vectorStore{inner: bundle.VectorStore, w: w}
	}
	if bundle.Memory != nil {
		out.Memory = &memory{inner: bundle.Memory, w: w}
	}
	return out
}

func hint(inner any, method string) *adapter.RetryHint {
	hinter, ok := inner.(adapter.RetryHinter)
	if !ok {
		return nil
	}
	h := hinter.RetryHint(method)
	return &h
}

func call(kind adapter.Kind, method string, inner, input any) Call {
	return Call{Kind: kind, Method: method, Input: input, Hint: hint(inner, method)}
}

type model struct {
	inner adapter.Model
	w     *Wrapper
}

func (m *model) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	return Invoke(ctx, m.w, call(adapter.KindModel, "generate", m.inner, req),
		func(ctx context.Context) (adapter.GenerateResult, error) {
			return m.inner.Generate(ctx, req)
		}).Unpack()
}

// Stream is retried only until the first chunk reaches yield; later failures
// are returned as-is.
func (m *model) Stream(ctx context.Context, req adapter.GenerateRequest, yield func(adapter.Chunk) error) error {
	_, err := Invoke(ctx, m.w, call(adapter.KindModel, "stream", m.inner, req),
		func(ctx context.Context) (struct{}, error) {
			delivered := false
			err := m.inner.Stream(ctx, req, func(chunk adapter.Chunk) error {
				delivered = true
				return yield(chunk)
			})
			if err != nil && delivered {
				return struct{}{}, Stop(err)
			}
			return struct{}{}, err
		}).Unpack()
	return err
}

type retriever struct {
	inner adapter.Retriever
	w     *Wrapper
}

func (r *retriever) Retrieve(ctx context.Context, query string) ([]adapter.Document, error) {
	return Invoke(ctx, r.w, call(adapter.KindRetriever, "retrieve", r.inner, query),
		func(ctx context.Context) ([]adapter.Document, error) {
			return r.inner.Retrieve(ctx, query)
		}).Unpack()
}

type embedder struct {
	inner adapter.Embedder
	w     *Wrapper
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return Invoke(ctx, e.w, call(adapter.KindEmbedder, "embed", e.inner, text),
		func(ctx context.Context) ([]float32, error) {
			return e.inner.Embed(ctx, text)
		}).Unpack()
}

func (e *embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return Invoke(ctx, e.w, call(adapter.KindEmbedder, "embed_many", e.inner, texts),
		func(ctx context.Context) ([][]float32, error) {
			return e.inner.EmbedMany(ctx, texts)
		}).Unpack()
}

type reranker struct {
	inner adapter.Reranker
	w     *Wrapper
}

func (r *reranker) Rerank(ctx context.Context, query string, docs []adapter.Document) ([]adapter.Document, error) {
	input := map[string]any{"query": query, "documents": len(docs)}
	return Invoke(ctx, r.w, call(adapter.KindReranker, "rerank", r.inner, input),
		func(ctx context.Context) ([]adapter.Document, error) {
			return r.inner.Rerank(ctx, query, docs)
		}).Unpack()
}

type tool struct {
	inner adapter.Tool
	w     *Wrapper
}

func (t *tool) Name() string { return t.inner.Name() }

func (t *tool) Execute(ctx context.Context, input map[string]any) (any, error) {
	payload := map[string]any{"tool": t.inner.Name(), "input": input}
	return Invoke(ctx, t.w, call(adapter.KindTools, "execute", t.inner, payload),
		func(ctx context.Context) (any, error) {
			return t.inner.Execute(ctx, input)
		}).Unpack()
}

type vectorStore struct {
	inner adapter.VectorStore
	w     *Wrapper
}

func (v *vectorStore) Upsert(ctx context.Context, records []adapter.Record) error {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	_, err := Invoke(ctx, v.w, call(adapter.KindVectorStore, "upsert", v.inner, ids),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, v.inner.Upsert(ctx, records)
		}).Unpack()
	return err
}

func (v *vectorStore) Delete(ctx context.Context, ids []string) error {
	_, err := Invoke(ctx, v.w, call(adapter.KindVectorStore, "delete", v.inner, ids),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, v.inner.Delete(ctx, ids)
		}).Unpack()
	return err
}

type memory struct {
	inner adapter.Memory
	w     *Wrapper
}

func (m *memory) Load(ctx context.Context, key string) (map[string]any, error) {
	return Invoke(ctx, m.w, call(adapter.KindMemory, "load", m.inner, key),
		func(ctx context.Context) (map[string]any, error) {
			return m.inner.Load(ctx, key)
		}).Unpack()
}

func (m *memory) Save(ctx context.Context, key string, values map[string]any) error {
	_, err := Invoke(ctx, m.w, call(adapter.KindMemory, "save", m.inner, key),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.inner.Save(ctx, key, values)
		}).Unpack()
	return err
}
