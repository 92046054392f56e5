// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"
)

// Kind identifies a queue variant.
type Kind uint8

const (
	KindSocket Kind = iota + 1
	KindFile
	KindMerge
	KindFilter
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindFile:
		return "file"
	case KindMerge:
		return "merge"
	case KindFilter:
		return "filter"
	}
	return "unknown"
}

// queue is the contract every variant implements. The set of variants is
// closed: socketQueue, fileQueue, mergeQueue, filterQueue.
//
// push and pop never block. They register c with the queue and arrange for
// it to be resolved later; a non-nil error means c was not taken and must be
// discarded by the caller. The network operations default to
// UnsupportedOperation through netless.
type queue interface {
	kind() Kind
	bind(sa unix.Sockaddr) error
	listen(backlog int) error
	connect(sa unix.Sockaddr) error
	accept(ctx context.Context) (queue, unix.Sockaddr, error)
	push(c *completion, sga SGArray) error
	pop(c *completion) error
	close() error
	fd() (int, error)
	// isClosed reports whether close has been called.
	isClosed() bool
	// setQD records the descriptor the registry assigned.
	setQD(qd int)
}

// netless supplies UnsupportedOperation for the network capability set.
type netless struct{}

func (netless) bind(unix.Sockaddr) error {
	return newError(UnsupportedOperation, "bind", 0)
}

func (netless) listen(int) error {
	return newError(UnsupportedOperation, "listen", 0)
}

func (netless) connect(unix.Sockaddr) error {
	return newError(UnsupportedOperation, "connect", 0)
}

func (netless) accept(context.Context) (queue, unix.Sockaddr, error) {
	return nil, nil, newError(UnsupportedOperation, "accept", 0)
}

// pendingSet tracks a queue's outstanding completions so close can cancel
// them. All per-queue mutation happens under mu, never under the registry
// lock.
type pendingSet struct {
	mu     sync.Mutex
	set    map[*completion]struct{}
	closed bool
}

// add registers c. It fails once the queue is closed.
func (p *pendingSet) add(c *completion) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if p.set == nil {
		p.set = make(map[*completion]struct{})
	}
	p.set[c] = struct{}{}
	p.mu.Unlock()
	c.then(func(Outcome) { p.remove(c) })
	return true
}

func (p *pendingSet) remove(c *completion) {
	p.mu.Lock()
	delete(p.set, c)
	p.mu.Unlock()
}

// shut marks the set closed and cancels every outstanding completion.
// It reports false if the set was already closed.
func (p *pendingSet) shut() bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	cs := make([]*completion, 0, len(p.set))
	for c := range p.set {
		cs = append(cs, c)
	}
	p.set = nil
	p.mu.Unlock()

	for _, c := range cs {
		c.cancel()
	}
	return true
}

func (p *pendingSet) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.set)
}

// pruneSettled drops completions that were resolved elsewhere, such as a
// composite prefetch cancelled by its owner's close.
func pruneSettled(cs []*completion) []*completion {
	kept := cs[:0]
	for _, c := range cs {
		if !c.isResolved() {
			kept = append(kept, c)
		}
	}
	clear(cs[len(kept):])
	return kept
}
