package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"xynconsole/internal/config"
	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
)

// ContextHash fingerprints a selection by pack id and version, independent of order.
// Unknown ids hash as id@missing so a deleted pack makes the context stale.
func ContextHash(catalog []domain.ContextPackSummary, ids []string) string {
	byID := make(map[string]domain.ContextPackSummary, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		version := "missing"
		if p, ok := byID[id]; ok {
			version = p.Version
		}
		lines = append(lines, id+"@"+version)
	}
	slices.Sort(lines)
	lines = slices.Compact(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// markStale sets ContextStale when a resolved hash no longer matches the selection.
func markStale(s *domain.DraftSession, catalog []domain.ContextPackSummary) {
	s.ContextStale = s.EffectiveContextHash != "" && s.EffectiveContextHash != ContextHash(catalog, s.SelectedContextPackIDs)
}

func (e Engine) catalog(ctx context.Context) ([]domain.ContextPackSummary, error) {
	return e.Repo.ListContextPacks(ctx, domain.ContextPackFilter{})
}

// ListContextPacks returns the catalog filtered by f.
func (e Engine) ListContextPacks(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error) {
	return e.Repo.ListContextPacks(ctx, f)
}

// Defaults derives recommendations and required names from the configured rules.
func (e Engine) Defaults(ctx context.Context, q domain.ContextPackQuery) (domain.ContextPackDefaults, error) {
	if !domain.ValidKind(q.DraftKind) {
		return domain.ContextPackDefaults{}, invalidf("draft_kind must be blueprint or solution")
	}
	if q.DraftKind == domain.KindBlueprint {
		q.GenerateCode = false
	}
	catalog, err := e.catalog(ctx)
	if err != nil {
		return domain.ContextPackDefaults{}, err
	}
	return defaultsFor(e.Config, catalog, q), nil
}

func defaultsFor(cfg *config.Config, catalog []domain.ContextPackSummary, q domain.ContextPackQuery) domain.ContextPackDefaults {
	purposes := map[string]bool{}
	for _, rule := range cfg.Recommend {
		if rule.Matches(q) {
			for _, p := range rule.Purposes {
				purposes[p] = true
			}
		}
	}
	out := domain.ContextPackDefaults{RecommendedContextPackIDs: []string{}, RequiredPackNames: []string{}}
	for _, p := range catalog {
		if purposes[p.Purpose] && contextpack.Resolvable(p, q.DraftKind, q.Namespace, q.ProjectKey) {
			out.RecommendedContextPackIDs = append(out.RecommendedContextPackIDs, p.ID)
		}
	}
	for _, rule := range cfg.Required {
		if !rule.Matches(q) {
			continue
		}
		for _, name := range rule.Names {
			if !slices.Contains(out.RequiredPackNames, name) {
				out.RequiredPackNames = append(out.RequiredPackNames, name)
			}
		}
	}
	return out
}
