// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// filterQueue yields the member's items that pred accepts.
//
// At most one member pop is outstanding, so composite pops are served in
// call order. A rejected item is dropped and the member pop re-issued.
// End of stream is passed through regardless of pred. Closing the filter
// cancels the outstanding member pop, leaving later member items to the
// member's own callers.
//
// Completions and member calls are never made under mu: a member may be
// another composite whose hooks call back into this one.
type filterQueue struct {
	netless
	log    *zap.Logger
	member queue
	mqd    int
	pred   Predicate

	mu     sync.Mutex
	qd     int
	closed bool
	fetch  *completion // outstanding member pop
	held   []Outcome   // accepted items no pop was left waiting for
	pops   []*completion
	pushes map[*completion]struct{}
}

func newFilterQueue(log *zap.Logger, member queue, mqd int, pred Predicate) *filterQueue {
	return &filterQueue{log: log, member: member, mqd: mqd, pred: pred, pushes: make(map[*completion]struct{})}
}

func (f *filterQueue) kind() Kind {
	return KindFilter
}

func (f *filterQueue) setQD(qd int) {
	f.mu.Lock()
	f.qd = qd
	f.mu.Unlock()
}

func (f *filterQueue) fd() (int, error) {
	return -1, newError(UnsupportedOperation, "qd2fd", f.qd)
}

func (f *filterQueue) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// usable returns the error an operation on f fails with, if any.
// Caller holds mu.
func (f *filterQueue) usable(op string) error {
	if f.closed {
		return newError(InvalidDescriptor, op, f.qd)
	}
	if f.member.isClosed() {
		return retag(newError(InvalidDescriptor, op, f.mqd), op, f.qd, 0)
	}
	return nil
}

func (f *filterQueue) push(c *completion, sga SGArray) error {
	f.mu.Lock()
	if err := f.usable("push"); err != nil {
		f.mu.Unlock()
		return err
	}
	f.pushes[c] = struct{}{}
	qd := f.qd
	f.mu.Unlock()

	mc := newCompletion(0, f.mqd, OpPush)
	mc.then(func(o Outcome) {
		f.mu.Lock()
		delete(f.pushes, c)
		f.mu.Unlock()
		if o.Err != nil {
			c.fail(retag(o.Err, "push", qd, 0))
			return
		}
		c.succeed(o.SGA, o.Bytes)
	})
	if err := f.member.push(mc, sga); err != nil {
		f.mu.Lock()
		delete(f.pushes, c)
		f.mu.Unlock()
		return retag(err, "push", qd, 0)
	}
	return nil
}

func (f *filterQueue) pop(c *completion) error {
	f.mu.Lock()
	f.pops = pruneSettled(f.pops)
	if !f.closed && len(f.pops) == 0 && len(f.held) > 0 {
		o := f.held[0]
		f.held[0] = Outcome{}
		f.held = f.held[1:]
		f.mu.Unlock()
		c.resolve(o)
		return nil
	}
	if err := f.usable("pop"); err != nil {
		f.mu.Unlock()
		return err
	}
	f.pops = append(f.pops, c)
	f.mu.Unlock()
	f.pump()
	return nil
}

// pump issues the member pop when composite pops wait and none is out.
func (f *filterQueue) pump() {
	f.mu.Lock()
	f.pops = pruneSettled(f.pops)
	if f.closed || f.fetch != nil || len(f.pops) == 0 {
		f.mu.Unlock()
		return
	}
	mc := newCompletion(0, f.mqd, OpPop)
	f.fetch = mc
	f.mu.Unlock()

	mc.then(func(o Outcome) { f.onMember(mc, o) })
	if err := f.member.pop(mc); err != nil {
		f.onMember(mc, Outcome{Err: err})
	}
}

func (f *filterQueue) onMember(mc *completion, o Outcome) {
	keep := o.Err != nil || o.SGA.Len() == 0 || f.pred(o.SGA)

	f.mu.Lock()
	if f.closed || f.fetch != mc {
		f.mu.Unlock()
		// Only a read that beat close's cancel gets here with data.
		if o.Err == nil {
			f.log.Debug("qio: filter dropped member payload after close",
				zap.Int("qd", f.qd), zap.Int("bytes", o.Bytes))
		}
		return
	}
	f.fetch = nil
	if !keep {
		f.mu.Unlock()
		f.pump()
		return
	}

	var serve []*completion
	f.pops = pruneSettled(f.pops)
	switch {
	case len(f.pops) == 0:
		// The pop this was fetched for was settled elsewhere.
		h := Outcome{SGA: o.SGA, Bytes: o.Bytes}
		if o.Err != nil {
			h.Err = retag(o.Err, "pop", f.qd, 0)
		}
		f.held = append(f.held, h)
	case errors.Is(o.Err, ErrCancelled) || errors.Is(o.Err, ErrInvalidDescriptor):
		// Member closed: no later member pop can succeed.
		serve, f.pops = f.pops, nil
	default:
		serve = f.pops[:1]
		f.pops = f.pops[1:]
	}
	qd := f.qd
	f.mu.Unlock()

	for _, p := range serve {
		if o.Err != nil {
			p.fail(retag(o.Err, "pop", qd, 0))
			continue
		}
		p.succeed(o.SGA, o.Bytes)
	}
	if o.Err == nil || !errors.Is(o.Err, ErrCancelled) {
		f.pump()
	}
}

func (f *filterQueue) close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return newError(InvalidDescriptor, "close", f.qd)
	}
	f.closed = true
	cs := f.pops
	if f.fetch != nil {
		cs = append(cs, f.fetch)
		f.fetch = nil
	}
	for c := range f.pushes {
		cs = append(cs, c)
	}
	f.pops, f.pushes, f.held = nil, nil, nil
	f.mu.Unlock()

	for _, c := range cs {
		c.cancel()
	}
	return nil
}
