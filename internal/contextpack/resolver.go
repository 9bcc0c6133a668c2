// Package contextpack resolves recommended and required context packs for a
// draft tuple and keeps a short-lived copy of the pack catalog.
package contextpack

import (
	"context"
	"sync"

	"xynconsole/internal/domain"
)

// DefaultsSource is the backend call the resolver proxies.
type DefaultsSource interface {
	GetContextPackDefaults(ctx context.Context, q domain.ContextPackQuery) (domain.ContextPackDefaults, error)
}

// Resolver answers Defaults for the most recent tuple only.
type Resolver struct {
	src DefaultsSource

	mu     sync.Mutex
	last   *domain.ContextPackQuery
	answer domain.ContextPackDefaults
}

func NewResolver(src DefaultsSource) *Resolver {
	return &Resolver{src: src}
}

// Defaults returns the recommendation for q. A repeated call with the same
// tuple is served from memory; any other tuple goes to the backend. On error
// the remembered answer is dropped.
func (r *Resolver) Defaults(ctx context.Context, q domain.ContextPackQuery) (domain.ContextPackDefaults, error) {
	r.mu.Lock()
	if r.last != nil && *r.last == q {
		out := cloneDefaults(r.answer)
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	d, err := r.src.GetContextPackDefaults(ctx, q)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.last = nil
		r.answer = domain.ContextPackDefaults{}
		return domain.ContextPackDefaults{}, err
	}
	tuple := q
	r.last = &tuple
	r.answer = cloneDefaults(d)
	return cloneDefaults(d), nil
}

// Last returns the remembered tuple and answer, if any.
func (r *Resolver) Last() (domain.ContextPackQuery, domain.ContextPackDefaults, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return domain.ContextPackQuery{}, domain.ContextPackDefaults{}, false
	}
	return *r.last, cloneDefaults(r.answer), true
}

// Reset forgets the remembered answer.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.last = nil
	r.answer = domain.ContextPackDefaults{}
	r.mu.Unlock()
}

func cloneDefaults(d domain.ContextPackDefaults) domain.ContextPackDefaults {
	return domain.ContextPackDefaults{
		RecommendedContextPackIDs: append([]string(nil), d.RecommendedContextPackIDs...),
		RequiredPackNames:         append([]string(nil), d.RequiredPackNames...),
	}
}
