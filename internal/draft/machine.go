// Package draft drives a draft session through generate, revise, save,
// snapshot and submit while background polls reconcile server state.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"xynconsole/internal/contextpack"
	"xynconsole/internal/domain"
	"xynconsole/internal/metrics"
	"xynconsole/internal/revisions"
	"xynconsole/internal/submit"
)

const DefaultPollInterval = 2 * time.Second

// API is the draft-session backend as seen by the machine.
type API interface {
	ListDraftSessions(ctx context.Context, f domain.DraftSessionFilter) ([]domain.DraftSession, error)
	CreateDraftSession(ctx context.Context, fields domain.DraftSessionFields) (string, error)
	GetDraftSession(ctx context.Context, id string) (domain.DraftSession, error)
	UpdateDraftSession(ctx context.Context, id string, u domain.DraftSessionUpdate) error
	DeleteDraftSession(ctx context.Context, id string) error
	ResolveDraftSessionContext(ctx context.Context, id string, packIDs []string) error
	EnqueueDraftGeneration(ctx context.Context, id string) error
	EnqueueDraftRevision(ctx context.Context, id, instruction string) error
	SaveDraftSession(ctx context.Context, id string, draft json.RawMessage) error
	SnapshotDraftSession(ctx context.Context, id, note string) error
	SubmitDraftSession(ctx context.Context, id string, req domain.SubmitRequest) (domain.SubmitResult, error)
	ListDraftSessionRevisions(ctx context.Context, id string, q domain.RevisionQuery) (domain.RevisionPage, error)
	GetContextPackDefaults(ctx context.Context, q domain.ContextPackQuery) (domain.ContextPackDefaults, error)
	ListContextPacks(ctx context.Context, f domain.ContextPackFilter) ([]domain.ContextPackSummary, error)
}

type Options struct {
	PollInterval time.Duration
	// ReplaceOnPoll overwrites fields under edit when a fetch lands.
	ReplaceOnPoll     bool
	RevisionPageSize  int
	RevisionCacheSize int
	CatalogSize       int
	CatalogTTL        time.Duration
	Logger            *log.Logger
	Metrics           *metrics.SessionMetrics
}

// View is a consistent copy of the machine state. Versions increase with
// every published view; consumers receiving views out of order keep the
// highest.
type View struct {
	Version      uint64
	Sessions     []domain.DraftSession
	Filter       domain.DraftSessionFilter
	SelectedID   string
	HasSession   bool
	Session      domain.DraftSession
	Instruction  string
	GenerateCode bool
	// Defaults stays empty until the answer for the current tuple is held.
	Defaults     domain.ContextPackDefaults
	Revisions    revisions.Page
	Polling      bool
	Focused      []Field
	Dirty        []Field
	CanSubmit    bool
	Notice       string
	Err          error
}

type working struct {
	session     domain.DraftSession
	instruction string
	focused     map[Field]bool
	dirty       map[Field]bool
}

func newWorking(s domain.DraftSession) *working {
	return &working{session: s.Clone(), focused: map[Field]bool{}, dirty: map[Field]bool{}}
}

type poller struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Machine owns the working copy of the selected session. Requests run
// outside the lock; their results are applied only if they still belong to
// the selected session and are the latest issued.
type Machine struct {
	api      API
	resolver *contextpack.Resolver
	catalog  *contextpack.Catalog
	history  *revisions.History
	gate     submit.Gate
	interval time.Duration
	replace  bool
	log      *log.Logger
	metrics  *metrics.SessionMetrics

	baseCtx context.Context
	stop    context.CancelFunc

	mu           sync.Mutex
	sessions     []domain.DraftSession
	filter       domain.DraftSessionFilter
	listSeq      uint64
	selected     string
	work         *working
	seq          uint64
	latest       uint64
	poll         *poller
	generateCode bool
	defaults     domain.ContextPackDefaults
	defaultsFor  *domain.ContextPackQuery
	revPage      revisions.Page
	err          error
	notice       string
	version      uint64
	listeners    map[int]func(View)
	nextListener int
	closed       bool
}

func New(api API, opts Options) (*Machine, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	history, err := revisions.NewHistory(api, opts.RevisionPageSize, opts.RevisionCacheSize)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		api:       api,
		resolver:  contextpack.NewResolver(api),
		catalog:   contextpack.NewCatalog(api, opts.CatalogSize, opts.CatalogTTL),
		history:   history,
		gate:      submit.Gate{API: api},
		interval:  opts.PollInterval,
		replace:   opts.ReplaceOnPoll,
		log:       logger,
		metrics:   opts.Metrics,
		baseCtx:   ctx,
		stop:      cancel,
		listeners: map[int]func(View){},
	}, nil
}

// OnChange registers fn to receive a View after every state change. fn runs
// on the goroutine that made the change and must not block.
func (m *Machine) OnChange(fn func(View)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Machine) DismissError() {
	m.mu.Lock()
	m.err = nil
	m.mu.Unlock()
	m.notify()
}

// Close stops polling. The machine must not be used afterwards.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	p := m.poll
	m.stopPollLocked("closed")
	m.mu.Unlock()
	m.stop()
	if p != nil {
		<-p.done
	}
}

// List loads sessions matching f. Older list responses are discarded.
func (m *Machine) List(ctx context.Context, f domain.DraftSessionFilter) ([]domain.DraftSession, error) {
	m.mu.Lock()
	m.filter = f
	m.listSeq++
	seq := m.listSeq
	m.mu.Unlock()

	items, err := m.api.ListDraftSessions(ctx, f)

	m.mu.Lock()
	if seq != m.listSeq {
		m.mu.Unlock()
		m.metrics.RecordDiscarded(ctx, "list")
		return items, err
	}
	if err != nil {
		m.err = err
	} else {
		m.sessions = items
	}
	m.mu.Unlock()
	m.notify()
	return items, err
}

// Select makes id the working session, stopping any poll of the previous one.
func (m *Machine) Select(ctx context.Context, id string) error {
	m.mu.Lock()
	m.stopPollLocked("selection changed")
	if m.selected != id {
		m.work = nil
		m.defaults = domain.ContextPackDefaults{}
		m.defaultsFor = nil
		m.revPage = revisions.Page{}
		m.resolver.Reset()
	}
	m.selected = id
	m.notice = ""
	m.mu.Unlock()
	m.notify()

	if err := m.fetch(ctx, id, "select"); err != nil {
		return err
	}
	if !m.isSelected(id) {
		// superseded by another selection
		return nil
	}
	if err := m.openRevisions(ctx, id); err != nil {
		return err
	}
	_, err := m.RefreshDefaults(ctx)
	return err
}

// Deselect drops the working session and stops its poll.
func (m *Machine) Deselect() {
	m.mu.Lock()
	m.stopPollLocked("selection changed")
	m.selected = ""
	m.work = nil
	m.defaults = domain.ContextPackDefaults{}
	m.defaultsFor = nil
	m.revPage = revisions.Page{}
	m.resolver.Reset()
	m.mu.Unlock()
	m.notify()
}

// Create creates a session, re-lists and selects it.
func (m *Machine) Create(ctx context.Context, fields domain.DraftSessionFields) (string, error) {
	if fields.Kind == "" {
		fields.Kind = domain.KindBlueprint
	}
	if !domain.ValidKind(fields.Kind) {
		return "", ErrInvalidKind
	}
	id, err := m.api.CreateDraftSession(ctx, fields)
	if err != nil {
		m.setErr(err)
		return "", err
	}
	m.metrics.RecordAction(ctx, "create")
	m.mu.Lock()
	f := m.filter
	m.mu.Unlock()
	if _, err := m.List(ctx, f); err != nil {
		return id, err
	}
	return id, m.Select(ctx, id)
}

// Delete removes a session. A session already gone counts as deleted.
func (m *Machine) Delete(ctx context.Context, id string) error {
	if err := m.api.DeleteDraftSession(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.setErr(err)
		return err
	}
	m.metrics.RecordAction(ctx, "delete")
	m.mu.Lock()
	if m.selected == id {
		m.clearSelectionLocked("selection deleted")
	}
	f := m.filter
	m.mu.Unlock()
	m.history.Forget(id)
	m.notify()
	_, err := m.List(ctx, f)
	return err
}

// fetch issues a tagged detail request for id and applies the result only
// if it is still the latest request for the selected session.
func (m *Machine) fetch(ctx context.Context, id, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.selected != id || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.seq++
	seq := m.seq
	m.latest = seq
	m.mu.Unlock()

	s, err := m.api.GetDraftSession(ctx, id)

	m.mu.Lock()
	if m.selected != id || m.latest != seq || m.closed {
		m.mu.Unlock()
		m.metrics.RecordDiscarded(ctx, source)
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, domain.ErrNotFound) {
			m.sessionGone(ctx, id)
			return ErrSessionGone
		}
		if ctx.Err() != nil {
			return err
		}
		m.setErr(err)
		return err
	}
	if m.work == nil {
		m.work = newWorking(s)
	} else {
		m.work.session = Merge(m.work.session, s, m.keepFunc(m.work))
	}
	if domain.IsInFlight(s.Status) {
		m.startPollLocked(id)
	} else {
		m.stopPollLocked("settled")
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

func (m *Machine) keepFunc(w *working) func(Field) bool {
	if m.replace {
		return nil
	}
	return func(f Field) bool { return w.focused[f] || w.dirty[f] }
}

// reconcile refreshes the session detail and its revision page.
func (m *Machine) reconcile(ctx context.Context, id string) error {
	m.history.Invalidate(id)
	if err := m.fetch(ctx, id, "action"); err != nil {
		return err
	}
	if !m.isSelected(id) {
		return nil
	}
	return m.refreshRevisions(ctx, id)
}

func (m *Machine) sessionGone(ctx context.Context, id string) {
	m.mu.Lock()
	if m.selected != id {
		m.mu.Unlock()
		return
	}
	m.clearSelectionLocked("session deleted")
	m.notice = "draft session " + id + " no longer exists"
	f := m.filter
	m.mu.Unlock()
	m.log.Printf("draft session %s not found, clearing selection", id)
	m.metrics.RecordSessionGone(ctx)
	m.history.Forget(id)
	m.notify()
	_, _ = m.List(ctx, f)
}

// fail records err unless it means the session was deleted, in which case
// the selection is reset and ErrSessionGone returned.
func (m *Machine) fail(ctx context.Context, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		m.sessionGone(ctx, id)
		return ErrSessionGone
	}
	m.setErr(err)
	return err
}

func (m *Machine) clearSelectionLocked(reason string) {
	m.stopPollLocked(reason)
	m.selected = ""
	m.work = nil
	m.defaults = domain.ContextPackDefaults{}
	m.defaultsFor = nil
	m.revPage = revisions.Page{}
}

func (m *Machine) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) isSelected(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected == id && m.work != nil
}

func (m *Machine) notify() {
	m.mu.Lock()
	m.version++
	v := m.viewLocked()
	ls := make([]func(View), 0, len(m.listeners))
	keys := make([]int, 0, len(m.listeners))
	for k := range m.listeners {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		ls = append(ls, m.listeners[k])
	}
	m.mu.Unlock()
	for _, fn := range ls {
		fn(v)
	}
}

func (m *Machine) viewLocked() View {
	v := View{
		Version:      m.version,
		Sessions:     append([]domain.DraftSession(nil), m.sessions...),
		Filter:       m.filter,
		SelectedID:   m.selected,
		GenerateCode: m.generateCode,
		Revisions:    m.revPage,
		Polling:      m.poll != nil,
		Notice:       m.notice,
		Err:          m.err,
	}
	if m.defaultsCurrentLocked() {
		v.Defaults = domain.ContextPackDefaults{
			RecommendedContextPackIDs: append([]string(nil), m.defaults.RecommendedContextPackIDs...),
			RequiredPackNames:         append([]string(nil), m.defaults.RequiredPackNames...),
		}
	}
	if m.work != nil {
		v.HasSession = true
		v.Session = m.work.session.Clone()
		v.Instruction = m.work.instruction
		v.CanSubmit = submit.CanSubmit(m.work.session)
		for _, f := range Fields {
			if m.work.focused[f] {
				v.Focused = append(v.Focused, f)
			}
			if m.work.dirty[f] {
				v.Dirty = append(v.Dirty, f)
			}
		}
	}
	return v
}
