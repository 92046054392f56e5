// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// mergeQueue combines two member queues.
//
// Push fans out: the item is pushed to both members and the composite token
// resolves once both have finished, with the first member failure if any.
//
// Pop fans in: while composite pops are pending each member has at most one
// prefetch pop outstanding. A member result goes to the oldest pending
// composite pop, or into that member's buffer when none is pending. Buffered
// results are served round-robin, starting after the member served last.
//
// Closing the merge cancels its prefetches too, so no member item is read
// on behalf of a composite that can no longer deliver it.
type mergeQueue struct {
	netless
	log     *zap.Logger
	members [2]queue
	mqds    [2]int

	mu     sync.Mutex
	qd     int
	closed bool
	fetch  [2]*completion // outstanding prefetch per member
	buf    [2][]Outcome
	next   int // member to try first when serving from buf
	pops   []*completion
	pushes map[*completion]struct{}
}

func newMergeQueue(log *zap.Logger, members [2]queue, mqds [2]int) *mergeQueue {
	return &mergeQueue{log: log, members: members, mqds: mqds, pushes: make(map[*completion]struct{})}
}

func (m *mergeQueue) kind() Kind {
	return KindMerge
}

func (m *mergeQueue) setQD(qd int) {
	m.mu.Lock()
	m.qd = qd
	m.mu.Unlock()
}

func (m *mergeQueue) fd() (int, error) {
	return -1, newError(UnsupportedOperation, "qd2fd", m.qd)
}

func (m *mergeQueue) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// usable returns the error an operation on m fails with, if any.
// Caller holds mu.
func (m *mergeQueue) usable(op string) error {
	if m.closed {
		return newError(InvalidDescriptor, op, m.qd)
	}
	for i, q := range m.members {
		if q.isClosed() {
			return retag(newError(InvalidDescriptor, op, m.mqds[i]), op, m.qd, i)
		}
	}
	return nil
}

// =============================================================================
// Push: fan-out
// =============================================================================

// fanOut collects the two member results of one composite push.
type fanOut struct {
	mu     sync.Mutex
	left   int
	err    error
	member int
}

func (m *mergeQueue) push(c *completion, sga SGArray) error {
	m.mu.Lock()
	if err := m.usable("push"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.pushes[c] = struct{}{}
	qd := m.qd
	m.mu.Unlock()

	agg := &fanOut{left: len(m.members), member: -1}
	done := func(i int, o Outcome) {
		agg.mu.Lock()
		agg.left--
		if o.Err != nil && agg.err == nil {
			agg.err, agg.member = o.Err, i
		}
		last := agg.left == 0
		agg.mu.Unlock()
		if !last {
			return
		}

		m.mu.Lock()
		delete(m.pushes, c)
		m.mu.Unlock()
		if agg.err != nil {
			c.fail(retag(agg.err, "push", qd, agg.member))
			return
		}
		c.succeed(sga, sga.Len())
	}

	for i, q := range m.members {
		mc := newCompletion(0, m.mqds[i], OpPush)
		mc.then(func(o Outcome) { done(i, o) })
		if err := q.push(mc, sga); err != nil {
			done(i, Outcome{Err: err})
		}
	}
	return nil
}

// =============================================================================
// Pop: fan-in
// =============================================================================

func (m *mergeQueue) pop(c *completion) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError(InvalidDescriptor, "pop", m.qd)
	}
	m.pops = pruneSettled(m.pops)
	if len(m.pops) == 0 {
		if o, ok := m.takeBuffered(); ok {
			m.mu.Unlock()
			c.resolve(o)
			return nil
		}
	}
	if err := m.usable("pop"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.pops = append(m.pops, c)
	m.mu.Unlock()
	m.prefetch()
	return nil
}

// takeBuffered removes the next buffered result in round-robin order.
// Caller holds mu.
func (m *mergeQueue) takeBuffered() (Outcome, bool) {
	for k := range len(m.buf) {
		i := (m.next + k) % len(m.buf)
		if len(m.buf[i]) == 0 {
			continue
		}
		o := m.buf[i][0]
		m.buf[i][0] = Outcome{}
		m.buf[i] = m.buf[i][1:]
		m.next = (i + 1) % len(m.buf)
		return o, true
	}
	return Outcome{}, false
}

// prefetch starts a member pop on every idle member while composite pops
// are waiting.
func (m *mergeQueue) prefetch() {
	var start [2]*completion
	m.mu.Lock()
	m.pops = pruneSettled(m.pops)
	if !m.closed && len(m.pops) > 0 {
		for i, q := range m.members {
			if m.fetch[i] == nil && !q.isClosed() {
				m.fetch[i] = newCompletion(0, m.mqds[i], OpPop)
				start[i] = m.fetch[i]
			}
		}
	}
	m.mu.Unlock()

	for i, q := range m.members {
		mc := start[i]
		if mc == nil {
			continue
		}
		mc.then(func(o Outcome) { m.onMember(i, mc, o) })
		if err := q.pop(mc); err != nil {
			m.onMember(i, mc, Outcome{Err: err})
		}
	}
}

func (m *mergeQueue) onMember(i int, mc *completion, o Outcome) {
	m.mu.Lock()
	if m.closed || m.fetch[i] != mc {
		m.mu.Unlock()
		// Only a read that beat close's cancel gets here with data.
		if o.Err == nil {
			m.log.Debug("qio: merge dropped member payload after close",
				zap.Int("qd", m.qd), zap.Int("member", i), zap.Int("bytes", o.Bytes))
		}
		return
	}
	m.fetch[i] = nil

	var serve []*completion
	gone := errors.Is(o.Err, ErrCancelled) || errors.Is(o.Err, ErrInvalidDescriptor)
	m.pops = pruneSettled(m.pops)
	switch {
	case !gone && len(m.pops) == 0:
		b := Outcome{SGA: o.SGA, Bytes: o.Bytes}
		if o.Err != nil {
			b.Err = retag(o.Err, "pop", m.qd, i)
		}
		m.buf[i] = append(m.buf[i], b)
	case gone:
		// Member closed under us: every waiting pop learns it now.
		serve, m.pops = m.pops, nil
	case len(m.pops) > 0:
		serve = m.pops[:1]
		m.pops = m.pops[1:]
		m.next = (i + 1) % len(m.members)
	}
	qd := m.qd
	m.mu.Unlock()

	for _, p := range serve {
		if o.Err != nil {
			p.fail(retag(o.Err, "pop", qd, i))
			continue
		}
		p.succeed(o.SGA, o.Bytes)
	}
	if !gone {
		m.prefetch()
	}
}

func (m *mergeQueue) close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError(InvalidDescriptor, "close", m.qd)
	}
	m.closed = true
	cs := m.pops
	for c := range m.pushes {
		cs = append(cs, c)
	}
	for i, mc := range m.fetch {
		if mc != nil {
			cs = append(cs, mc)
			m.fetch[i] = nil
		}
	}
	dropped := len(m.buf[0]) + len(m.buf[1])
	m.pops, m.pushes = nil, nil
	m.buf = [2][]Outcome{}
	m.mu.Unlock()

	if dropped > 0 {
		m.log.Debug("qio: merge dropped buffered payloads on close",
			zap.Int("qd", m.qd), zap.Int("items", dropped))
	}
	for _, c := range cs {
		c.cancel()
	}
	return nil
}
