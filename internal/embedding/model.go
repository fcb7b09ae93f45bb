// Package embedding provides text embedding generation with swappable
// provider backends.
package embedding

import (
	"fmt"
	"sync"
)

// Model represents a text embedding backend.
type Model interface {
	// Name returns the human-readable model name.
	Name() string

	// Version returns a short version string stored alongside vectors.
	Version() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates an embedding for a single text.
	Embed(text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(texts []string) ([][]float32, error)

	// Close releases model resources.
	Close() error
}

// ModelMetadata describes an embedding model for UI/config.
type ModelMetadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Dimensions  int    `json:"dimensions"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

// ModelFactory creates a new instance of an embedding model.
type ModelFactory func() (Model, error)

// ModelRegistry provides model lookup by version.
type ModelRegistry struct {
	mu           sync.RWMutex
	models       map[string]ModelFactory
	metadata     map[string]ModelMetadata
	order        []string
	defaultModel string
}

// NewModelRegistry creates a new model registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models:   make(map[string]ModelFactory),
		metadata: make(map[string]ModelMetadata),
	}
}

// Register adds a model factory to the registry. Registration order is the
// selection order when no provider is configured.
func (r *ModelRegistry) Register(meta ModelMetadata, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[meta.Version]; !ok {
		r.order = append(r.order, meta.Version)
	}
	r.models[meta.Version] = factory
	r.metadata[meta.Version] = meta

	if meta.Default {
		r.defaultModel = meta.Version
	}
}

// Get creates a new instance of the model with the given version.
func (r *ModelRegistry) Get(version string) (Model, error) {
	r.mu.RLock()
	factory, ok := r.models[version]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown model version: %s", version)
	}
	return factory()
}

// FirstAvailable instantiates models in registration order and returns the
// first whose factory succeeds, or nil when none is available.
func (r *ModelRegistry) FirstAvailable() Model {
	r.mu.RLock()
	versions := make([]string, len(r.order))
	copy(versions, r.order)
	r.mu.RUnlock()

	for _, version := range versions {
		if model, err := r.Get(version); err == nil {
			return model
		}
	}
	return nil
}

// Default returns the default model version.
func (r *ModelRegistry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// List returns metadata for all registered models in registration order.
func (r *ModelRegistry) List() []ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ModelMetadata, 0, len(r.order))
	for _, version := range r.order {
		result = append(result, r.metadata[version])
	}
	return result
}

// DefaultRegistry is the global model registry with all available models.
var DefaultRegistry = NewModelRegistry()

// RegisterModel adds a model to the default registry.
func RegisterModel(meta ModelMetadata, factory ModelFactory) {
	DefaultRegistry.Register(meta, factory)
}

// GetModel creates a model instance from the default registry.
func GetModel(version string) (Model, error) {
	return DefaultRegistry.Get(version)
}

// ListModels returns metadata for all models in the default registry.
func ListModels() []ModelMetadata {
	return DefaultRegistry.List()
}
