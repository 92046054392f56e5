// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"context"

	"golang.org/x/sys/unix"
)

// WaitAny blocks until one of tokens resolves and returns its index and
// outcome. When several are already resolved the lowest index wins. The
// other tokens are left untouched.
//
// If ctx is done first, WaitAny returns ctx.Err() and the tokens stay
// pending. A token another wait call is blocked on fails with ErrTokenBusy.
func (l *Library) WaitAny(ctx context.Context, tokens []QToken) (int, Outcome, error) {
	cs, w, release, err := l.hold("wait_any", tokens)
	if err != nil {
		return -1, Outcome{}, err
	}
	defer release()

	for {
		for i, c := range cs {
			if o, ok := c.poll(); ok {
				l.deliver(c)
				return i, o, nil
			}
		}
		if err := park(ctx, w); err != nil {
			return -1, Outcome{}, err
		}
	}
}

// WaitAll blocks until every token resolves and returns the outcomes in
// input order. ctx and busy tokens behave as for WaitAny.
func (l *Library) WaitAll(ctx context.Context, tokens []QToken) ([]Outcome, error) {
	cs, w, release, err := l.hold("wait_all", tokens)
	if err != nil {
		return nil, err
	}
	defer release()

	next := 0
	for next < len(cs) {
		if cs[next].isResolved() {
			next++
			continue
		}
		if err := park(ctx, w); err != nil {
			return nil, err
		}
	}
	out := make([]Outcome, len(cs))
	for i, c := range cs {
		out[i], _ = c.poll()
		l.deliver(c)
	}
	return out, nil
}

// Poll reports the outcome of tok without blocking. ok is false while the
// operation is pending.
func (l *Library) Poll(tok QToken) (o Outcome, ok bool, err error) {
	c, err := l.find("poll", tok)
	if err != nil {
		return Outcome{}, false, err
	}
	if o, ok = c.poll(); ok {
		l.deliver(c)
	}
	return o, ok, nil
}

// hold looks up tokens and claims each for the calling wait. A token listed
// twice is claimed once. Every claimed token signals w when it resolves.
func (l *Library) hold(op string, tokens []QToken) (cs []*completion, w chan struct{}, release func(), err error) {
	if len(tokens) == 0 {
		e := newError(InvalidDescriptor, op, 0)
		e.Errno = unix.EINVAL
		return nil, nil, nil, e
	}
	cs = make([]*completion, len(tokens))
	for i, tok := range tokens {
		c, err := l.find(op, tok)
		if err != nil {
			return nil, nil, nil, err
		}
		cs[i] = c
	}

	w = make(chan struct{}, 1)
	claimed := make(map[*completion]struct{}, len(cs))
	release = func() {
		for c := range claimed {
			c.unclaim()
		}
	}
	for _, c := range cs {
		if _, dup := claimed[c]; dup {
			continue
		}
		if !c.claim(w) {
			release()
			return nil, nil, nil, ErrTokenBusy
		}
		claimed[c] = struct{}{}
	}
	return cs, w, release, nil
}

// park sleeps until a held token signals w or ctx is done.
func park(ctx context.Context, w <-chan struct{}) error {
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
