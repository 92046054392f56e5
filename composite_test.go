// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio_test

import (
	"errors"
	"path/filepath"
	"testing"

	"code.hybscloud.com/qio"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Merge
// =============================================================================

// TestMergeFanOut pushes once to a merge and pops the item from both
// members' peers.
func TestMergeFanOut(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, peerB := seqpair(t, lib)
	m, err := lib.Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	o := wait(t, lib, push(t, lib, m, "fan-out"))
	if !o.OK() || o.QD != m {
		t.Fatalf("merge push: got (%v, qd %d), want (nil, qd %d)", o.Err, o.QD, m)
	}
	if o.Bytes != len("fan-out") {
		t.Fatalf("merge push Bytes: got %d, want %d", o.Bytes, len("fan-out"))
	}
	for _, qd := range []int{peerA, peerB} {
		if got := popString(t, lib, qd); got != "fan-out" {
			t.Fatalf("pop from %d: got %q, want %q", qd, got, "fan-out")
		}
	}
}

// TestMergeFanIn pops from a merge after pushing into one member only.
func TestMergeFanIn(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, peerB := seqpair(t, lib)
	m, err := lib.Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	tok := pop(t, lib, m)
	push(t, lib, peerA, "from-a")
	if o := wait(t, lib, tok); string(o.SGA.Bytes()) != "from-a" || o.QD != m {
		t.Fatalf("merge pop: got (%q, qd %d), want (%q, qd %d)", o.SGA.Bytes(), o.QD, "from-a", m)
	}

	// b still has a prefetch out; its result is served next.
	push(t, lib, peerB, "from-b")
	if got := popString(t, lib, m); got != "from-b" {
		t.Fatalf("merge pop: got %q, want %q", got, "from-b")
	}
}

func TestMergeServesBothMembers(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, peerB := seqpair(t, lib)
	m, _ := lib.Merge(a, b)

	t1 := pop(t, lib, m)
	t2 := pop(t, lib, m)
	push(t, lib, peerA, "x")
	push(t, lib, peerB, "y")

	outs, err := lib.WaitAll(testCtx(t), []qio.QToken{t1, t2})
	if err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	got := map[string]bool{string(outs[0].SGA.Bytes()): true, string(outs[1].SGA.Bytes()): true}
	if !got["x"] || !got["y"] {
		t.Fatalf("merge pops: got %q and %q, want x and y", outs[0].SGA.Bytes(), outs[1].SGA.Bytes())
	}
}

// TestMergeMemberClosed closes a member under a pending composite pop.
func TestMergeMemberClosed(t *testing.T) {
	lib := newLib(t, nil)
	a, _ := seqpair(t, lib)
	b, _ := seqpair(t, lib)
	m, _ := lib.Merge(a, b)

	tok := pop(t, lib, m)
	if err := lib.Close(a); err != nil {
		t.Fatalf("Close member: %v", err)
	}
	o := wait(t, lib, tok)
	if !errors.Is(o.Err, qio.ErrCancelled) {
		t.Fatalf("pending merge pop: got %v, want ErrCancelled", o.Err)
	}
	if e := asError(t, o.Err); e.Member != 0 || e.QD != m {
		t.Fatalf("error tag: got (qd %d, member %d), want (qd %d, member 0)", e.QD, e.Member, m)
	}

	_, err := lib.Pop(m)
	wantKind(t, "Pop on merge with closed member", err, qio.InvalidDescriptor)
	if e := asError(t, err); e.Member != 0 {
		t.Fatalf("Member: got %d, want 0", e.Member)
	}
	_, err = lib.Push(m, qio.NewSGArray([]byte("z")))
	wantKind(t, "Push on merge with closed member", err, qio.InvalidDescriptor)

	// The surviving member is unaffected.
	if err := lib.Close(b); err != nil {
		t.Fatalf("Close b: %v", err)
	}
	if err := lib.Close(m); err != nil {
		t.Fatalf("Close merge: %v", err)
	}
}

// TestMergeCloseKeepsMembers closes the composite; members stay usable.
func TestMergeCloseKeepsMembers(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, _ := seqpair(t, lib)
	m, _ := lib.Merge(a, b)

	tok := pop(t, lib, m)
	if err := lib.Close(m); err != nil {
		t.Fatalf("Close merge: %v", err)
	}
	if o := wait(t, lib, tok); !errors.Is(o.Err, qio.ErrCancelled) {
		t.Fatalf("merge pop after close: got %v, want ErrCancelled", o.Err)
	}

	// Close cancelled the merge's prefetch, so nothing is read on its behalf.
	push(t, lib, peerA, "after-1")
	push(t, lib, peerA, "after-2")
	for _, want := range []string{"after-1", "after-2"} {
		if got := popString(t, lib, a); got != want {
			t.Fatalf("member pop after merge close: got %q, want %q", got, want)
		}
	}
}

// TestMergeCloseReleasesIdlePrefetch serves a merge pop from one member,
// closes the merge and checks the other member's next item still reaches
// that member's own pop.
func TestMergeCloseReleasesIdlePrefetch(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, peerB := seqpair(t, lib)
	m, _ := lib.Merge(a, b)

	tok := pop(t, lib, m)
	push(t, lib, peerA, "from-a")
	if o := wait(t, lib, tok); !o.OK() || string(o.SGA.Bytes()) != "from-a" {
		t.Fatalf("merge pop: got (%q, %v), want %q", o.SGA.Bytes(), o.Err, "from-a")
	}
	if err := lib.Close(m); err != nil {
		t.Fatalf("Close merge: %v", err)
	}

	push(t, lib, peerB, "member-item")
	if got := popString(t, lib, b); got != "member-item" {
		t.Fatalf("member pop after merge close: got %q, want %q", got, "member-item")
	}
}

// TestMergeBuffersMemberFailure checks a member failure that arrives while
// no merge pop waits is reported to a later pop rather than lost.
func TestMergeBuffersMemberFailure(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	w, err := lib.Creat(filepath.Join(t.TempDir(), "wo"), 0o600)
	if err != nil {
		t.Fatalf("Creat: %v", err)
	}
	m, _ := lib.Merge(a, w)

	// Both members complete a prefetch for the first pop; one result is
	// buffered.
	push(t, lib, peerA, "x")
	var outs []qio.Outcome
	for range 2 {
		outs = append(outs, wait(t, lib, pop(t, lib, m)))
	}

	var gotItem, gotFailure bool
	for _, o := range outs {
		switch {
		case o.OK() && string(o.SGA.Bytes()) == "x":
			gotItem = true
		case qio.KindOf(o.Err) == qio.OperationFailed:
			if e := asError(t, o.Err); e.Member != 1 || e.QD != m || e.Errno != unix.EBADF {
				t.Fatalf("member failure: got %v, want EBADF from member 1 of %d", o.Err, m)
			}
			gotFailure = true
		default:
			t.Fatalf("merge pop: unexpected outcome (%q, %v)", o.SGA.Bytes(), o.Err)
		}
	}
	if !gotItem || !gotFailure {
		t.Fatalf("merge pops: item=%v failure=%v, want both", gotItem, gotFailure)
	}
}

// =============================================================================
// Filter
// =============================================================================

// TestFilterCloseKeepsMember closes a filter with a pop outstanding; the
// member's next item goes to the member's own pop.
func TestFilterCloseKeepsMember(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	f, _ := lib.Filter(a, qio.EvenLength)

	tok := pop(t, lib, f)
	if err := lib.Close(f); err != nil {
		t.Fatalf("Close filter: %v", err)
	}
	if o := wait(t, lib, tok); !errors.Is(o.Err, qio.ErrCancelled) {
		t.Fatalf("filter pop after close: got %v, want ErrCancelled", o.Err)
	}

	push(t, lib, peerA, "xy")
	if got := popString(t, lib, a); got != "xy" {
		t.Fatalf("member pop after filter close: got %q, want %q", got, "xy")
	}
}

// TestNestedCloseKeepsInnerItems closes a filter stacked on a merge; the
// merge keeps serving its own pops.
func TestNestedCloseKeepsInnerItems(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, _ := seqpair(t, lib)
	m, _ := lib.Merge(a, b)
	f, _ := lib.Filter(m, qio.NonEmpty)

	tok := pop(t, lib, f)
	if err := lib.Close(f); err != nil {
		t.Fatalf("Close filter: %v", err)
	}
	if o := wait(t, lib, tok); !errors.Is(o.Err, qio.ErrCancelled) {
		t.Fatalf("filter pop after close: got %v, want ErrCancelled", o.Err)
	}

	push(t, lib, peerA, "inner")
	if got := popString(t, lib, m); got != "inner" {
		t.Fatalf("merge pop after filter close: got %q, want %q", got, "inner")
	}
}

// TestFilterEvenLength drops an odd-length item and yields the even one
// pushed after it.
func TestFilterEvenLength(t *testing.T) {
	lib := newLib(t, nil)
	a, b := seqpair(t, lib)
	f, err := lib.Filter(b, qio.EvenLength)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}

	tok := pop(t, lib, f)
	push(t, lib, a, "odd")
	push(t, lib, a, "even")
	o := wait(t, lib, tok)
	if !o.OK() || string(o.SGA.Bytes()) != "even" {
		t.Fatalf("filter pop: got (%q, %v), want %q", o.SGA.Bytes(), o.Err, "even")
	}
	if o.QD != f {
		t.Fatalf("outcome QD: got %d, want %d", o.QD, f)
	}
}

func TestFilterPopsInOrder(t *testing.T) {
	lib := newLib(t, nil)
	a, b := seqpair(t, lib)
	f, _ := lib.Filter(b, qio.HasPrefix([]byte("ok:")))

	t1 := pop(t, lib, f)
	t2 := pop(t, lib, f)
	for _, s := range []string{"no:1", "ok:1", "no:2", "ok:2"} {
		push(t, lib, a, s)
	}
	outs, err := lib.WaitAll(testCtx(t), []qio.QToken{t1, t2})
	if err != nil {
		t.Fatalf("WaitAll: %v", err)
	}
	if string(outs[0].SGA.Bytes()) != "ok:1" || string(outs[1].SGA.Bytes()) != "ok:2" {
		t.Fatalf("filter pops: got %q, %q", outs[0].SGA.Bytes(), outs[1].SGA.Bytes())
	}
}

func TestFilterPushForwards(t *testing.T) {
	lib := newLib(t, nil)
	a, b := seqpair(t, lib)
	f, _ := lib.Filter(a, qio.EvenLength)

	// Push is not filtered.
	if o := wait(t, lib, push(t, lib, f, "odd")); !o.OK() {
		t.Fatalf("filter push: %v", o.Err)
	}
	if got := popString(t, lib, b); got != "odd" {
		t.Fatalf("forwarded push: got %q, want %q", got, "odd")
	}
}

func TestFilterMemberClosed(t *testing.T) {
	lib := newLib(t, nil)
	_, b := seqpair(t, lib)
	f, _ := lib.Filter(b, qio.NonEmpty)

	tok := pop(t, lib, f)
	if err := lib.Close(b); err != nil {
		t.Fatalf("Close member: %v", err)
	}
	o := wait(t, lib, tok)
	if !errors.Is(o.Err, qio.ErrCancelled) {
		t.Fatalf("pending filter pop: got %v, want ErrCancelled", o.Err)
	}
	if e := asError(t, o.Err); e.Member != 0 || e.QD != f {
		t.Fatalf("error tag: got (qd %d, member %d), want (qd %d, member 0)", e.QD, e.Member, f)
	}
	_, err := lib.Pop(f)
	wantKind(t, "Pop on filter with closed member", err, qio.InvalidDescriptor)
}

func TestFilterNilPredicate(t *testing.T) {
	lib := newLib(t, nil)
	a, _ := seqpair(t, lib)
	if _, err := lib.Filter(a, nil); qio.Errno(err) != unix.EINVAL {
		t.Fatalf("Filter(nil): got %v, want EINVAL", err)
	}
}

// TestNestedComposites filters a merge.
func TestNestedComposites(t *testing.T) {
	lib := newLib(t, nil)
	a, peerA := seqpair(t, lib)
	b, peerB := seqpair(t, lib)
	m, _ := lib.Merge(a, b)
	f, err := lib.Filter(m, qio.MinLength(4))
	if err != nil {
		t.Fatalf("Filter over merge: %v", err)
	}

	tok := pop(t, lib, f)
	push(t, lib, peerA, "abc")
	push(t, lib, peerB, "long enough")
	if o := wait(t, lib, tok); string(o.SGA.Bytes()) != "long enough" {
		t.Fatalf("nested pop: got %q, want %q", o.SGA.Bytes(), "long enough")
	}

	if err := lib.Close(f); err != nil {
		t.Fatalf("Close filter: %v", err)
	}
	if err := lib.Close(m); err != nil {
		t.Fatalf("Close merge: %v", err)
	}
}
