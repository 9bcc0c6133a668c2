package draft

import (
	"context"
	"time"
)

// startPollLocked arms the poll task for id unless one is already running.
func (m *Machine) startPollLocked(id string) {
	if m.closed {
		return
	}
	if m.poll != nil && m.poll.id == id {
		return
	}
	m.stopPollLocked("selection changed")
	ctx, cancel := context.WithCancel(m.baseCtx)
	p := &poller{id: id, cancel: cancel, done: make(chan struct{})}
	m.poll = p
	m.metrics.RecordPollStarted(ctx)
	m.log.Printf("polling draft session %s every %s", id, m.interval)
	go m.pollLoop(ctx, p)
}

// stopPollLocked cancels the running poll. Results of requests it already
// issued fail the apply check because the selection or sequence moved on.
func (m *Machine) stopPollLocked(reason string) {
	if m.poll == nil {
		return
	}
	m.poll.cancel()
	m.log.Printf("stopped polling draft session %s: %s", m.poll.id, reason)
	m.metrics.RecordPollStopped(m.baseCtx, reason)
	m.poll = nil
}

func (m *Machine) pollLoop(ctx context.Context, p *poller) {
	defer close(p.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.metrics.RecordPollFetch(ctx)
		_ = m.fetch(ctx, p.id, "poll")
		if !m.isSelected(p.id) {
			return
		}
		// the session fetch may have stopped this poll; the revision page
		// still reflects the final transition
		_ = m.refreshRevisions(m.baseCtx, p.id)
		if ctx.Err() != nil {
			return
		}
	}
}
