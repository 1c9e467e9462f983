// Package binding holds the topic bindings loaded from the bindings file.
package binding

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/rc_agent/internal/domain"
)

// Registry holds all enabled bindings keyed by topic.
// It is built once at startup and read-only afterwards.
type Registry struct {
	bindings map[string]entry
	seq      int
	skipped  []error
	logger   *zap.Logger
}

type entry struct {
	binding domain.Binding
	seq     int // registration order, breaks ties within a kind
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]entry),
		logger:   logger,
	}
}

// NewRegistryWithBindings creates a registry with the given bindings (for testing).
func NewRegistryWithBindings(logger *zap.Logger, bindings ...domain.Binding) (*Registry, error) {
	r := NewRegistry(logger)
	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a binding. Disabled bindings are skipped.
// When two bindings share a topic the kind earlier in resolution order
// wins; within a kind the first registered wins.
func (r *Registry) Register(b domain.Binding) error {
	if !b.Enabled {
		r.logger.Debug("skipping disabled binding",
			zap.String("topic", b.Topic),
			zap.String("kind", string(b.Kind)))
		return nil
	}
	if err := b.Validate(); err != nil {
		return err
	}

	r.seq++
	existing, ok := r.bindings[b.Topic]
	if ok {
		if existing.binding.Kind.Rank() <= b.Kind.Rank() {
			r.logger.Warn("duplicate topic, keeping earlier binding",
				zap.String("topic", b.Topic),
				zap.String("kept", string(existing.binding.Kind)),
				zap.String("dropped", string(b.Kind)))
			return nil
		}
		r.logger.Warn("duplicate topic, higher priority kind takes over",
			zap.String("topic", b.Topic),
			zap.String("kept", string(b.Kind)),
			zap.String("dropped", string(existing.binding.Kind)))
	}
	r.bindings[b.Topic] = entry{binding: b, seq: r.seq}
	return nil
}

// Resolve returns the binding that owns topic.
func (r *Registry) Resolve(topic string) (*domain.Binding, bool) {
	e, ok := r.bindings[topic]
	if !ok {
		return nil, false
	}
	b := e.binding
	return &b, true
}

// All returns every binding in resolution order.
func (r *Registry) All() []domain.Binding {
	entries := make([]entry, 0, len(r.bindings))
	for _, e := range r.bindings {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := entries[i].binding.Kind.Rank(), entries[j].binding.Kind.Rank()
		if ri != rj {
			return ri < rj
		}
		return entries[i].seq < entries[j].seq
	})

	result := make([]domain.Binding, len(entries))
	for i, e := range entries {
		result[i] = e.binding
	}
	return result
}

// Topics returns all topics in resolution order.
func (r *Registry) Topics() []string {
	all := r.All()
	topics := make([]string, len(all))
	for i, b := range all {
		topics[i] = b.Topic
	}
	return topics
}

// Len returns the number of registered bindings.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Skipped returns the validation errors of bindings NewStore left out.
func (r *Registry) Skipped() []error {
	return r.skipped
}

// NewStore builds a registry from a loaded snapshot. An invalid binding
// is logged and skipped; the rest still load.
func NewStore(snap *Snapshot, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, b := range snap.Bindings {
		if err := r.Register(b); err != nil {
			logger.Warn("skipping invalid binding",
				zap.String("topic", b.Topic),
				zap.String("kind", string(b.Kind)),
				zap.Error(err))
			r.skipped = append(r.skipped, fmt.Errorf("invalid binding: %w", err))
		}
	}
	return r
}

// Ensure Registry implements domain.BindingStore.
var _ domain.BindingStore = (*Registry)(nil)
