// Package ioadapter defines the pluggable input/output adapter contract
// (C5/C6) and a runtime registry keyed by adapter name, plus the concrete
// voice-chat, file, and webrtc-class adapters.
package ioadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// InputAdapter is a source of CanonicalFrames: voice-chat, file, or a
// WebRTC-class transport.
type InputAdapter interface {
	Start(ctx context.Context) error
	Stop() error
	// Stream returns a channel that is closed when the stream ends. Frames
	// arrive in sequence order; the channel is not restartable once closed.
	Stream() <-chan audio.CanonicalFrame
	IsActive() bool
}

// OutputAdapter is a sink for CanonicalFrames.
type OutputAdapter interface {
	Start(ctx context.Context) error
	// Play enqueues frames for playback; the adapter drains them on its own
	// schedule. Play does not block past enqueue.
	Play(frames <-chan audio.CanonicalFrame) error
	Stop() error
	IsPlaying() bool
}

// InputConstructor builds an InputAdapter from a name-specific config map.
type InputConstructor func(config map[string]string) (InputAdapter, error)

// OutputConstructor builds an OutputAdapter from a name-specific config map.
type OutputConstructor func(config map[string]string) (OutputAdapter, error)

// Registry maps adapter name to constructor, for both directions.
type Registry struct {
	mu      sync.RWMutex
	inputs  map[string]InputConstructor
	outputs map[string]OutputConstructor
}

// NewRegistry constructs an empty Registry. Call RegisterInput/RegisterOutput
// at startup to populate it from the recognized adapter names in §6.
func NewRegistry() *Registry {
	return &Registry{
		inputs:  make(map[string]InputConstructor),
		outputs: make(map[string]OutputConstructor),
	}
}

func (r *Registry) RegisterInput(name string, ctor InputConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = ctor
}

func (r *Registry) RegisterOutput(name string, ctor OutputConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = ctor
}

// GetInput constructs a named input adapter; unknown names fail with
// errs.KindUnknownAdapter.
func (r *Registry) GetInput(name string, config map[string]string) (InputAdapter, error) {
	r.mu.RLock()
	ctor, ok := r.inputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindUnknownAdapter, fmt.Sprintf("unknown input adapter: %s", name))
	}
	return ctor(config)
}

// GetOutput constructs a named output adapter; unknown names fail with
// errs.KindUnknownAdapter.
func (r *Registry) GetOutput(name string, config map[string]string) (OutputAdapter, error) {
	r.mu.RLock()
	ctor, ok := r.outputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindUnknownAdapter, fmt.Sprintf("unknown output adapter: %s", name))
	}
	return ctor(config)
}
