package contextpack

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"xynconsole/internal/domain"
)

const (
	DefaultCatalogTTL  = 5 * time.Minute
	DefaultCatalogSize = 32
)

// CatalogSource lists context packs.
type CatalogSource interface {
	ListContextPacks(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error)
}

// Catalog caches pack listings per filter for a bounded time.
type Catalog struct {
	src   CatalogSource
	cache *expirable.LRU[domain.ContextPackFilter, []domain.ContextPackSummary]
}

func NewCatalog(src CatalogSource, size int, ttl time.Duration) *Catalog {
	if size <= 0 {
		size = DefaultCatalogSize
	}
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{
		src:   src,
		cache: expirable.NewLRU[domain.ContextPackFilter, []domain.ContextPackSummary](size, nil, ttl),
	}
}

// List returns packs matching f, from cache when fresh.
func (c *Catalog) List(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error) {
	if packs, ok := c.cache.Get(f); ok {
		return append([]domain.ContextPackSummary(nil), packs...), nil
	}
	packs, err := c.src.ListContextPacks(ctx, f)
	if err != nil {
		return nil, err
	}
	c.cache.Add(f, append([]domain.ContextPackSummary(nil), packs...))
	return packs, nil
}

// All returns the unfiltered catalog.
func (c *Catalog) All(ctx context.Context) ([]domain.ContextPackSummary, error) {
	return c.List(ctx, domain.ContextPackFilter{})
}

// Cached returns the unfiltered catalog if a fresh copy is held, without
// calling the backend.
func (c *Catalog) Cached() ([]domain.ContextPackSummary, bool) {
	packs, ok := c.cache.Get(domain.ContextPackFilter{})
	if !ok {
		return nil, false
	}
	return append([]domain.ContextPackSummary(nil), packs...), true
}

// Invalidate drops every cached listing.
func (c *Catalog) Invalidate() {
	c.cache.Purge()
}

// Resolvable reports whether pack may be selected for the given tuple.
// Kind does not restrict packs; purpose is advisory.
func Resolvable(pack domain.ContextPackSummary, kind, namespace, projectKey string) bool {
	switch pack.Scope {
	case domain.ScopeGlobal, "":
		return true
	case domain.ScopeNamespace:
		return pack.Namespace != "" && pack.Namespace == namespace
	case domain.ScopeProject:
		if pack.ProjectKey == "" || pack.ProjectKey != projectKey {
			return false
		}
		return pack.Namespace == "" || pack.Namespace == namespace
	default:
		return false
	}
}

// FilterResolvable keeps ids whose pack is resolvable for the tuple, in order.
// Ids missing from the catalog are dropped.
func FilterResolvable(catalog []domain.ContextPackSummary, ids []string, kind, namespace, projectKey string) []string {
	byID := index(catalog)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		pack, ok := byID[id]
		if !ok || !Resolvable(pack, kind, namespace, projectKey) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// NamesForIDs maps selected ids to pack names. Unknown ids are skipped.
func NamesForIDs(catalog []domain.ContextPackSummary, ids []string) []string {
	byID := index(catalog)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if pack, ok := byID[id]; ok {
			out = append(out, pack.Name)
		}
	}
	return out
}

// MissingNames returns the required names not covered by selected ids.
func MissingNames(catalog []domain.ContextPackSummary, selected, required []string) []string {
	have := map[string]bool{}
	for _, name := range NamesForIDs(catalog, selected) {
		have[name] = true
	}
	var missing []string
	for _, name := range required {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func index(catalog []domain.ContextPackSummary) map[string]domain.ContextPackSummary {
	byID := make(map[string]domain.ContextPackSummary, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	return byID
}
