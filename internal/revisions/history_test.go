package revisions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	totals map[string]int
	calls  []domain.RevisionQuery
	err    error
}

func (f *fakeSource) ListDraftSessionRevisions(_ context.Context, id string, q domain.RevisionQuery) (domain.RevisionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	if f.err != nil {
		return domain.RevisionPage{}, f.err
	}
	total := f.totals[q.Q]
	var items []domain.DraftRevision
	start := (q.Page - 1) * q.PageSize
	for i := start; i < start+q.PageSize && i < total; i++ {
		items = append(items, domain.DraftRevision{ID: fmt.Sprintf("%s-r%d", id, i+1), RevisionNumber: i + 1})
	}
	return domain.RevisionPage{Revisions: items, Total: total}, nil
}

func (f *fakeSource) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		out = append(out, c.Page)
	}
	return out
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 1, PageCount(0, 5))
	assert.Equal(t, 1, PageCount(5, 5))
	assert.Equal(t, 3, PageCount(12, 5))
	assert.Equal(t, 4, PageCount(20, 5))
}

func TestSearchClampsPageWhenTotalShrinks(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 20, "auth": 12}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := h.SetPage(ctx, "s1", 4)
	require.NoError(t, err)
	require.Equal(t, 4, p.Page)
	require.Len(t, p.Revisions, 5)

	p, err = h.Search(ctx, "s1", "auth")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 12, p.Total)
	assert.Len(t, p.Revisions, 2)
	assert.Equal(t, "s1-r11", p.Revisions[0].ID)
	// page 4 was requested, then the clamped page 3 re-fetched
	assert.Equal(t, []int{4, 4, 3}, src.pages())
}

func TestClampToFirstPageWhenEmpty(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 10}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.SetPage(ctx, "s1", 2)
	require.NoError(t, err)
	p, err := h.Search(ctx, "s1", "nothing")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 0, p.Total)
	assert.Empty(t, p.Revisions)
}

func TestEveryChangeRefetches(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 11}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.Open(ctx, "s1")
	require.NoError(t, err)
	_, err = h.Next(ctx, "s1")
	require.NoError(t, err)
	_, err = h.Open(ctx, "s2")
	require.NoError(t, err)
	p, err := h.Open(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Page, "view state restored per session")
	assert.Len(t, src.calls, 4)
}

func TestNextPrevStayInBounds(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 6}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := h.Prev(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	p, err = h.Next(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Page)
	p, err = h.Next(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.Page)
}

func TestErrorKeepsView(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 6}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.Open(ctx, "s1")
	require.NoError(t, err)
	src.err = errors.New("unavailable")
	p, err := h.Search(ctx, "s1", "x")
	require.Error(t, err)
	assert.Equal(t, "x", p.Q)
	assert.Len(t, p.Revisions, 5)
}

func TestInvalidateAndForget(t *testing.T) {
	src := &fakeSource{totals: map[string]int{"": 6}}
	h, err := NewHistory(src, 5, 8)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = h.SetPage(ctx, "s1", 2)
	require.NoError(t, err)
	h.Invalidate("s1")
	cur := h.Current("s1")
	assert.False(t, cur.Loaded)
	assert.Equal(t, 2, cur.Page)

	h.Forget("s1")
	assert.Equal(t, 1, h.Current("s1").Page)
}
