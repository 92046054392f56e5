// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"sync"

	"code.hybscloud.com/atomix"
)

// QToken identifies one asynchronous push or pop issued by a [Library].
// Tokens are issued monotonically from 1 and never reused. The zero value is
// never issued.
type QToken uint64

// OpKind is the operation a token stands for.
type OpKind uint8

const (
	OpPush OpKind = iota + 1
	OpPop
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpPop:
		return "pop"
	}
	return "unknown"
}

// Outcome is the result of a resolved token.
type Outcome struct {
	// SGA is the filled buffer for a pop, or the pushed array for a push.
	// An empty pop SGA with a nil Err means end of stream.
	SGA   SGArray
	Err   error // nil, OperationFailed or Cancelled *Error
	Token QToken
	QD    int
	Bytes int // bytes transferred
	Op    OpKind
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// completion is the per-token state machine: Pending → Resolved(outcome).
//
// Resolution happens exactly once; later resolve calls (a backend finishing
// an operation that close already cancelled, for example) are ignored.
// Hooks run after the state is published and outside the lock, so a hook may
// issue operations on other queues.
type completion struct {
	tok QToken
	qd  int
	op  OpKind

	mu       sync.Mutex
	outcome  Outcome
	hooks    []func(Outcome)
	waiter   chan struct{}
	resolved atomix.Bool
	waiting  atomix.Uint64 // 1 while a wait call holds the token

	// guarded by Library.tokMu
	counted   bool // included in the pending count
	delivered bool // returned by a wait or poll
}

func newCompletion(tok QToken, qd int, op OpKind) *completion {
	return &completion{tok: tok, qd: qd, op: op}
}

// resolve publishes the outcome. It reports false if c was already resolved.
func (c *completion) resolve(o Outcome) bool {
	c.mu.Lock()
	if c.resolved.LoadAcquire() {
		c.mu.Unlock()
		return false
	}
	o.Token, o.QD, o.Op = c.tok, c.qd, c.op
	c.outcome = o
	c.resolved.StoreRelease(true)
	hooks := c.hooks
	c.hooks = nil
	w := c.waiter
	c.mu.Unlock()

	if w != nil {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	for _, h := range hooks {
		h(o)
	}
	return true
}

// succeed resolves c with a successful transfer of sga.
func (c *completion) succeed(sga SGArray, n int) bool {
	return c.resolve(Outcome{SGA: sga, Bytes: n})
}

// fail resolves c with err.
func (c *completion) fail(err error) bool {
	return c.resolve(Outcome{Err: err})
}

// cancel resolves c with Cancelled.
func (c *completion) cancel() bool {
	return c.resolve(Outcome{Err: newError(Cancelled, c.op.String(), c.qd)})
}

// poll reports the outcome if c is resolved.
func (c *completion) poll() (Outcome, bool) {
	if !c.resolved.LoadAcquire() {
		return Outcome{}, false
	}
	c.mu.Lock()
	o := c.outcome
	c.mu.Unlock()
	return o, true
}

func (c *completion) isResolved() bool {
	return c.resolved.LoadAcquire()
}

// then registers h to run once c resolves. If c is already resolved h runs
// immediately on the calling goroutine.
func (c *completion) then(h func(Outcome)) {
	c.mu.Lock()
	if !c.resolved.LoadAcquire() {
		c.hooks = append(c.hooks, h)
		c.mu.Unlock()
		return
	}
	o := c.outcome
	c.mu.Unlock()
	h(o)
}

// claim marks c as being waited on. Only one wait call may hold a token.
func (c *completion) claim(w chan struct{}) bool {
	if !c.waiting.CompareAndSwapAcqRel(0, 1) {
		return false
	}
	c.mu.Lock()
	c.waiter = w
	c.mu.Unlock()
	return true
}

func (c *completion) unclaim() {
	c.mu.Lock()
	c.waiter = nil
	c.mu.Unlock()
	c.waiting.StoreRelease(0)
}
