// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"
	"testing"
)

// stubQueue is a queue that records its descriptor and nothing else.
type stubQueue struct {
	netless
	qd     int
	closed bool
}

func (q *stubQueue) kind() Kind { return KindSocket }
func (q *stubQueue) push(*completion, SGArray) error { return nil }
func (q *stubQueue) pop(*completion) error { return nil }
func (q *stubQueue) close() error { q.closed = true; return nil }
func (q *stubQueue) fd() (int, error) { return -1, nil }
func (q *stubQueue) isClosed() bool { return q.closed }
func (q *stubQueue) setQD(qd int) { q.qd = qd }

func TestQDTableInsertGetRemove(t *testing.T) {
	tab := newQDTable(8)
	a, b := &stubQueue{}, &stubQueue{}

	qa, err := tab.insert(a)
	if err != nil || qa != 1 || a.qd != 1 {
		t.Fatalf("insert a: got (%d, %v) qd=%d, want 1", qa, err, a.qd)
	}
	qb, err := tab.insert(b)
	if err != nil || qb != 2 {
		t.Fatalf("insert b: got (%d, %v), want 2", qb, err)
	}
	if q, ok := tab.get(qb); !ok || q != b {
		t.Fatalf("get(%d): got (%v, %v)", qb, q, ok)
	}
	for _, qd := range []int{-1, 0, 3, 100} {
		if _, ok := tab.get(qd); ok {
			t.Fatalf("get(%d): want miss", qd)
		}
	}

	if q, ok := tab.remove(qa); !ok || q != a {
		t.Fatalf("remove(%d): got (%v, %v)", qa, q, ok)
	}
	if _, ok := tab.remove(qa); ok {
		t.Fatalf("second remove(%d): want miss", qa)
	}
	if _, ok := tab.get(qa); ok {
		t.Fatalf("get after remove(%d): want miss", qa)
	}
	if tab.len() != 1 {
		t.Fatalf("len: got %d, want 1", tab.len())
	}

	// Freed descriptors are reused before the table grows.
	c := &stubQueue{}
	if qc, _ := tab.insert(c); qc != qa {
		t.Fatalf("insert after remove: got %d, want reused %d", qc, qa)
	}
}

func TestQDTableLimit(t *testing.T) {
	tab := newQDTable(2)
	for range 2 {
		if _, err := tab.insert(&stubQueue{}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_, err := tab.insert(&stubQueue{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != ResourceExhausted {
		t.Fatalf("insert past limit: got %v, want ResourceExhausted", err)
	}

	tab.remove(1)
	if qd, err := tab.insert(&stubQueue{}); err != nil || qd != 1 {
		t.Fatalf("insert after remove: got (%d, %v), want 1", qd, err)
	}
}

func TestQDTableDrain(t *testing.T) {
	tab := newQDTable(8)
	qs := []*stubQueue{{}, {}, {}}
	for _, q := range qs {
		tab.insert(q)
	}
	tab.remove(2)

	out := tab.drain()
	if len(out) != 2 || out[1] != qs[0] || out[3] != qs[2] {
		t.Fatalf("drain: got %v", out)
	}
	if tab.len() != 0 {
		t.Fatalf("len after drain: got %d, want 0", tab.len())
	}
	_, err := tab.insert(&stubQueue{})
	var e *Error
	if !errors.As(err, &e) || e.Kind != InvalidDescriptor {
		t.Fatalf("insert after drain: got %v, want InvalidDescriptor", err)
	}
}
