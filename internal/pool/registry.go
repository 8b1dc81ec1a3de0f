package pool

import (
	"fmt"
	"sync"

	"poolwatch/internal/model"
)

// Registry holds the registered pool variants keyed by exchange name and
// classifies incoming events against their matchers.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]Variant)}
}

// Register adds a variant after verifying its matcher is mutually
// exclusive with every variant already registered: no existing matcher may
// accept the new variant's sample events and vice versa. An overlap is a
// configuration error, not a per-event condition.
func (r *Registry) Register(v Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := v.Name()
	if _, ok := r.variants[name]; ok {
		return fmt.Errorf("register %s: %w", name, ErrVariantExists)
	}

	samples := v.SampleEvents()
	if len(samples) == 0 {
		return fmt.Errorf("register %s: variant provides no sample events", name)
	}
	for _, sample := range samples {
		if !v.MatchesFormat(sample) {
			return fmt.Errorf("register %s: variant rejects its own sample event %s", name, sample.Type)
		}
		for _, existingName := range r.order {
			if r.variants[existingName].MatchesFormat(sample) {
				return fmt.Errorf("register %s: sample %s also matched by %s: %w",
					name, sample.Type, existingName, ErrAmbiguousMatch)
			}
		}
	}
	for _, existingName := range r.order {
		for _, sample := range r.variants[existingName].SampleEvents() {
			if v.MatchesFormat(sample) {
				return fmt.Errorf("register %s: matches sample %s of %s: %w",
					name, sample.Type, existingName, ErrAmbiguousMatch)
			}
		}
	}

	r.variants[name] = v
	r.order = append(r.order, name)
	return nil
}

// Classify returns the single variant whose matcher accepts the event, or
// ErrUnclassifiedEvent when none does.
func (r *Registry) Classify(ev model.Event) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched Variant
	for _, name := range r.order {
		v := r.variants[name]
		if !v.MatchesFormat(ev) {
			continue
		}
		if matched != nil {
			return nil, fmt.Errorf("event %s matched by %s and %s: %w",
				ev.Type, matched.Name(), name, ErrAmbiguousMatch)
		}
		matched = v
	}
	if matched == nil {
		return nil, fmt.Errorf("event %s: %w", ev.Type, ErrUnclassifiedEvent)
	}
	return matched, nil
}

// Get returns a variant by exchange name.
func (r *Registry) Get(name string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[name]
	return v, ok
}

// Names returns the registered exchange names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
