// Package revisions keeps a paginated, searchable view over a session's
// revision records.
package revisions

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"xynconsole/internal/domain"
)

const (
	DefaultPageSize  = 5
	DefaultCacheSize = 64
	maxClampFetches  = 3
)

// Source lists one page of revisions.
type Source interface {
	ListDraftSessionRevisions(ctx context.Context, id string, q domain.RevisionQuery) (domain.RevisionPage, error)
}

// Page is the view handed to callers.
type Page struct {
	SessionID string
	Q         string
	Page      int
	PageSize  int
	Total     int
	Revisions []domain.DraftRevision
	Loaded    bool
}

// PageCount returns max(1, ceil(total/page_size)).
func (p Page) PageCount() int {
	return PageCount(p.Total, p.PageSize)
}

// PageCount returns the number of pages for total items, never less than one.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

type view struct {
	q        string
	page     int
	pageSize int
	total    int
	items    []domain.DraftRevision
	loaded   bool
	seq      uint64
}

// History holds view state per session. Every change of session, search text
// or page goes to the backend; only the view parameters are remembered.
type History struct {
	src      Source
	pageSize int

	mu    sync.Mutex
	views *lru.Cache[string, *view]
}

func NewHistory(src Source, pageSize, cacheSize int) (*History, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	views, err := lru.New[string, *view](cacheSize)
	if err != nil {
		return nil, err
	}
	return &History{src: src, pageSize: pageSize, views: views}, nil
}

// Open fetches the session's current page, restoring its last filter and page.
func (h *History) Open(ctx context.Context, sessionID string) (Page, error) {
	return h.fetch(ctx, sessionID, func(*view) {})
}

// Refresh re-fetches the current page for the session.
func (h *History) Refresh(ctx context.Context, sessionID string) (Page, error) {
	return h.fetch(ctx, sessionID, func(*view) {})
}

// Search changes the free-text filter. The page is kept and clamped once the
// new total is known.
func (h *History) Search(ctx context.Context, sessionID, q string) (Page, error) {
	q = strings.TrimSpace(q)
	return h.fetch(ctx, sessionID, func(v *view) { v.q = q })
}

// SetPage moves to page (1-based).
func (h *History) SetPage(ctx context.Context, sessionID string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	return h.fetch(ctx, sessionID, func(v *view) { v.page = page })
}

// Next and Prev step through pages within bounds.
func (h *History) Next(ctx context.Context, sessionID string) (Page, error) {
	return h.fetch(ctx, sessionID, func(v *view) {
		if v.page < PageCount(v.total, v.pageSize) {
			v.page++
		}
	})
}

func (h *History) Prev(ctx context.Context, sessionID string) (Page, error) {
	return h.fetch(ctx, sessionID, func(v *view) {
		if v.page > 1 {
			v.page--
		}
	})
}

// Current returns the remembered view without a request.
func (h *History) Current(sessionID string) Page {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views.Peek(sessionID)
	if !ok {
		return Page{SessionID: sessionID, Page: 1, PageSize: h.pageSize}
	}
	return snapshot(sessionID, v)
}

// Invalidate marks the session's page as unloaded; filter and page are kept.
func (h *History) Invalidate(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.views.Peek(sessionID); ok {
		v.loaded = false
		v.seq++
	}
}

// Forget drops all view state for the session.
func (h *History) Forget(sessionID string) {
	h.mu.Lock()
	h.views.Remove(sessionID)
	h.mu.Unlock()
}

func (h *History) fetch(ctx context.Context, sessionID string, mutate func(*view)) (Page, error) {
	h.mu.Lock()
	v := h.viewLocked(sessionID)
	mutate(v)
	h.mu.Unlock()

	for i := 0; i < maxClampFetches; i++ {
		h.mu.Lock()
		v.seq++
		seq := v.seq
		q := domain.RevisionQuery{Q: v.q, Page: v.page, PageSize: v.pageSize}
		h.mu.Unlock()

		res, err := h.src.ListDraftSessionRevisions(ctx, sessionID, q)
		if err != nil {
			return h.Current(sessionID), err
		}

		h.mu.Lock()
		cur, ok := h.views.Peek(sessionID)
		if !ok || cur != v || v.seq != seq {
			// a newer request owns the view
			out := snapshot(sessionID, v)
			h.mu.Unlock()
			return out, nil
		}
		v.total = res.Total
		last := PageCount(res.Total, v.pageSize)
		if v.page > last {
			v.page = last
			h.mu.Unlock()
			continue
		}
		v.items = append([]domain.DraftRevision(nil), res.Revisions...)
		v.loaded = true
		out := snapshot(sessionID, v)
		h.mu.Unlock()
		return out, nil
	}
	return h.Current(sessionID), nil
}

func (h *History) viewLocked(sessionID string) *view {
	if v, ok := h.views.Get(sessionID); ok {
		return v
	}
	v := &view{page: 1, pageSize: h.pageSize}
	h.views.Add(sessionID, v)
	return v
}

func snapshot(sessionID string, v *view) Page {
	return Page{
		SessionID: sessionID,
		Q:         v.q,
		Page:      v.page,
		PageSize:  v.pageSize,
		Total:     v.total,
		Revisions: append([]domain.DraftRevision(nil), v.items...),
		Loaded:    v.loaded,
	}
}
