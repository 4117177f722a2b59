// Package memory classifies, scores, retrieves and consolidates long-term user memories.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
)

// DefaultDimensions matches the vector(768) column of the memory table.
const DefaultDimensions = 768

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder embeds with the Gemini embedding API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAIEmbedder creates a Gemini embedder.
func NewGenAIEmbedder(ctx context.Context, apiKey, modelName string, dimensions int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is required for embeddings")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      modelName,
		dimensions: dimensions,
	}, nil
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.NewProviderError("genai", apperr.InvalidRequest, fmt.Errorf("empty text"))
	}

	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, apperr.NewProviderError("genai", apperr.Unavailable, fmt.Errorf("failed to embed content: %w", err))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, apperr.NewProviderError("genai", apperr.Unavailable, fmt.Errorf("empty embedding response"))
	}
	return fitDimensions(resp.Embeddings[0].Values, e.dimensions, e.model)
}

// OpenAIEmbedder embeds with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(apiKey, modelName string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required for embeddings")
	}
	if modelName == "" {
		modelName = "text-embedding-3-small"
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{client: &client, model: modelName, dimensions: dimensions}, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.NewProviderError("openai", apperr.InvalidRequest, fmt.Errorf("empty text"))
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, apperr.NewProviderError("openai", apperr.Unavailable, fmt.Errorf("failed to embed content: %w", err))
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, apperr.NewProviderError("openai", apperr.Unavailable, fmt.Errorf("empty embedding response"))
	}
	values := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		values[i] = float32(v)
	}
	return fitDimensions(values, e.dimensions, e.model)
}

func fitDimensions(values []float32, dimensions int, model string) ([]float32, error) {
	if len(values) == dimensions {
		return values, nil
	}
	if len(values) > dimensions {
		slog.Warn("embedding dimensions exceed target, truncating", "actual", len(values), "target", dimensions, "model", model)
		return normalize(values[:dimensions]), nil
	}
	return nil, apperr.NewProviderError(model, apperr.InvalidRequest, fmt.Errorf("embedding dimensions mismatch: got %d want %d", len(values), dimensions))
}

// HashEmbedder is a deterministic, offline embedder based on feature hashing of word tokens.
// Texts sharing words land close together, which is enough for local runs and tests.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a HashEmbedder.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text)
}

func (e *HashEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text)
}

func (e *HashEmbedder) embed(text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		// short or stopword-only texts still get a vector from their raw words
		tokens = strings.Fields(strings.ToLower(text))
	}
	if len(tokens) == 0 {
		return nil, apperr.NewProviderError("hash", apperr.InvalidRequest, fmt.Errorf("empty text"))
	}
	vec := make([]float32, e.dimensions)
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		if (sum>>32)&1 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return normalize(vec), nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true, "for": true,
	"was": true, "are": true, "user": true, "their": true, "they": true, "about": true,
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
