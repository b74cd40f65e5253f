package provider

import (
	"fmt"
	"sync"

	"github.com/aicg/aicg/internal/models"
)

// Registry resolves provider names to adapters. Adapters register the
// capabilities they implement; lookups fail with a validation error when
// a provider lacks the requested capability.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]any)}
}

// Register adds an adapter under a provider name, replacing any previous
// registration.
func (r *Registry) Register(name string, adapter any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

func (r *Registry) lookup(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("unknown provider %q", name))
	}
	return adapter, nil
}

// Text resolves a text-capable adapter.
func (r *Registry) Text(name string) (TextModel, error) {
	adapter, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	m, ok := adapter.(TextModel)
	if !ok {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("provider %q does not generate text", name))
	}
	return m, nil
}

// Image resolves an image-capable adapter.
func (r *Registry) Image(name string) (ImageModel, error) {
	adapter, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	m, ok := adapter.(ImageModel)
	if !ok {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("provider %q does not generate images", name))
	}
	return m, nil
}

// TTS resolves a speech-capable adapter.
func (r *Registry) TTS(name string) (TTSModel, error) {
	adapter, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	m, ok := adapter.(TTSModel)
	if !ok {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("provider %q does not synthesize speech", name))
	}
	return m, nil
}

// Video resolves a video-capable adapter.
func (r *Registry) Video(name string) (VideoModel, error) {
	adapter, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	m, ok := adapter.(VideoModel)
	if !ok {
		return nil, models.NewError(models.ErrKindValidation,
			fmt.Sprintf("provider %q does not generate video", name))
	}
	return m, nil
}
