package jobs

import (
	"context"
	"errors"

	"storyjobs/internal/domain"
)

var errMailboxClosed = errors.New("jobs: snapshot mailbox closed")

type persistFunc func(ctx context.Context, snap domain.Snapshot) error

type mutation struct {
	ctx     context.Context
	fn      func(domain.Snapshot)
	persist bool
	done    chan error
}

// mailbox owns one job's snapshot. Every read and write is a message handled
// by a single goroutine, so concurrent sub-tasks never interleave a mutation
// with another one's persistence.
type mailbox struct {
	snap    domain.Snapshot
	persist persistFunc
	in      chan mutation
	quit    chan struct{}
	stopped chan struct{}
}

func newMailbox(snap domain.Snapshot, persist persistFunc) *mailbox {
	m := &mailbox{
		snap:    snap,
		persist: persist,
		in:      make(chan mutation),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *mailbox) loop() {
	defer close(m.stopped)
	for {
		select {
		case req := <-m.in:
			req.done <- m.apply(req)
		case <-m.quit:
			return
		}
	}
}

func (m *mailbox) apply(req mutation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	req.fn(m.snap)
	if !req.persist {
		return nil
	}
	return m.persist(req.ctx, m.snap)
}

// send queues fn behind every earlier mutation and waits for it to be applied
// and, when persist is set, written to the store.
func (m *mailbox) send(ctx context.Context, fn func(domain.Snapshot), persist bool) error {
	req := mutation{ctx: ctx, fn: fn, persist: persist, done: make(chan error, 1)}
	select {
	case m.in <- req:
	case <-m.stopped:
		return errMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.done
}

func (m *mailbox) close() {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	<-m.stopped
}
