// Package adapter defines the constructs a recipe can call into. Every
// generation, retrieval, or storage call arrives through one of these
// interfaces; the engine never talks to a provider directly.
package adapter

import (
	"context"
	"fmt"
)

// Kind names an adapter construct.
type Kind string

const (
	KindModel       Kind = "model"
	KindRetriever   Kind = "retriever"
	KindEmbedder    Kind = "embedder"
	KindReranker    Kind = "reranker"
	KindTools       Kind = "tools"
	KindVectorStore Kind = "vector_store"
	KindMemory      Kind = "memory"
	KindDocuments   Kind = "documents"
)

// Kinds lists every construct in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindModel,
		KindRetriever,
		KindEmbedder,
		KindReranker,
		KindTools,
		KindVectorStore,
		KindMemory,
		KindDocuments,
	}
}

// ParseKind validates a construct name.
func ParseKind(value string) (Kind, error) {
	for _, kind := range Kinds() {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", fmt.Errorf("adapter: unknown construct %q", value)
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the model input.
type GenerateRequest struct {
	Messages []Message      `json:"messages"`
	Tools    []string       `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// GenerateResult is the model output.
type GenerateResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk is one streamed piece of model output.
type Chunk struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// Model generates text.
type Model interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	// Stream delivers chunks to yield until the stream ends or yield fails.
	Stream(ctx context.Context, req GenerateRequest, yield func(Chunk) error) error
}

// Document is a retrievable unit of text.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever fetches documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]Document, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker reorders documents by relevance to query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document) ([]Document, error)
}

// Tool is a named callable.
type Tool interface {
	Name() string
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Record is a vector store entry.
type Record struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorStore persists vectors.
type VectorStore interface {
	Upsert(ctx context.Context, records []Record) error
	Delete(ctx context.Context, ids []string) error
}

// Memory loads and saves conversational memory.
type Memory interface {
	Load(ctx context.Context, key string) (map[string]any, error)
	Save(ctx context.Context, key string, values map[string]any) error
}

// RequirementKind distinguishes what an adapter requirement points at.
type RequirementKind string

const (
	RequirementConstruct  RequirementKind = "construct"
	RequirementCapability RequirementKind = "capability"
)

// Requirement is something an adapter needs to work.
type Requirement struct {
	Kind RequirementKind `json:"kind" yaml:"kind"`
	Name string          `json:"name" yaml:"name"`
}

// RequirementDeclarer is implemented by adapters that depend on other
// constructs or capabilities (for example a retriever needing an embedder).
type RequirementDeclarer interface {
	Requirements() []Requirement
}

// RetryHint is an adapter's own view of how its calls should be retried.
// A configured runtime policy always takes precedence.
type RetryHint struct {
	Retryable   bool
	MaxAttempts int
}

// RetryHinter is implemented by adapters that know their retry semantics.
type RetryHinter interface {
	RetryHint(method string) RetryHint
}
