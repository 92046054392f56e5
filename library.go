// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"context"
	"sort"
	"sync"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Library is a queue registry: it owns the descriptor table, the token
// table and the backend that drives fd-backed queues.
//
// All methods are safe for concurrent use. Every method except Accept,
// WaitAny and WaitAll returns without waiting for I/O.
type Library struct {
	opts  Options
	log   *zap.Logger
	met   *metrics
	table *qdTable
	eng   *engine

	tokMu    sync.Mutex
	tokens   map[QToken]*completion
	retained []QToken // delivered tokens, oldest first
	pending  int      // unresolved tokens

	nextTok atomix.Uint64
	down    atomix.Uint64
}

func newLibrary(opts Options) (*Library, error) {
	log := opts.logger
	if log == nil {
		log = zap.NewNop()
	}
	met, err := newMetrics(opts.registerer)
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(opts.submitCap, submitAttempts, log)
	if err != nil {
		return nil, err
	}
	log.Debug("qio: library started",
		zap.Int("max_queues", opts.maxQueues),
		zap.Int("max_pending", opts.maxPending),
		zap.Int("submit_capacity", eng.ring.Cap()))
	return &Library{
		opts:   opts,
		log:    log,
		met:    met,
		table:  newQDTable(opts.maxQueues),
		eng:    eng,
		tokens: make(map[QToken]*completion),
	}, nil
}

// =============================================================================
// Queue creation
// =============================================================================

// Socket creates an unbound socket queue. The arguments are those of
// socket(2).
func (l *Library) Socket(domain, typ, proto int) (int, error) {
	fd, err := openSocket(domain, typ, proto)
	if err != nil {
		return -1, failure("socket", 0, err)
	}
	return l.register("socket", newSocketQueue(l.eng, l.log, fd, l.opts.readSize, sockUnbound))
}

// SocketPair creates two connected socket queues, as socketpair(2) does.
func (l *Library) SocketPair(domain, typ, proto int) (int, int, error) {
	fds, err := unix.Socketpair(domain, typ, proto)
	if err != nil {
		return -1, -1, failure("socketpair", 0, err)
	}
	for _, fd := range fds {
		if err := prepareFD(fd); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, failure("socketpair", 0, err)
		}
	}
	a := newSocketQueue(l.eng, l.log, fds[0], l.opts.readSize, sockConnected)
	b := newSocketQueue(l.eng, l.log, fds[1], l.opts.readSize, sockConnected)
	qa, err := l.register("socketpair", a)
	if err != nil {
		b.close()
		return -1, -1, err
	}
	qb, err := l.register("socketpair", b)
	if err != nil {
		l.Close(qa)
		return -1, -1, err
	}
	return qa, qb, nil
}

// Open opens path as a file queue. flags are those of open(2).
func (l *Library) Open(path string, flags int) (int, error) {
	return l.OpenMode(path, flags, 0)
}

// OpenMode opens path as a file queue, creating it with mode if flags ask.
func (l *Library) OpenMode(path string, flags int, mode uint32) (int, error) {
	fd, err := openFile(path, flags, mode)
	if err != nil {
		return -1, failure("open", 0, err)
	}
	return l.register("open", newFileQueue(l.eng, l.log, fd, l.opts.readSize))
}

// Creat creates or truncates path for writing, as creat(2) does.
func (l *Library) Creat(path string, mode uint32) (int, error) {
	return l.OpenMode(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
}

// Merge creates a composite queue over qd1 and qd2. Pushes go to both
// members; pops yield items from either. The members stay independently
// usable and closable.
func (l *Library) Merge(qd1, qd2 int) (int, error) {
	a, err := l.lookup("merge", qd1)
	if err != nil {
		return -1, err
	}
	b, err := l.lookup("merge", qd2)
	if err != nil {
		return -1, err
	}
	return l.register("merge", newMergeQueue(l.log, [2]queue{a, b}, [2]int{qd1, qd2}))
}

// Filter creates a composite queue over qd whose pops yield only the items
// pred accepts. Pushes are forwarded unchanged.
func (l *Library) Filter(qd int, pred Predicate) (int, error) {
	if pred == nil {
		return -1, failure("filter", qd, unix.EINVAL)
	}
	q, err := l.lookup("filter", qd)
	if err != nil {
		return -1, err
	}
	return l.register("filter", newFilterQueue(l.log, q, qd, pred))
}

func (l *Library) register(op string, q queue) (int, error) {
	qd, err := l.table.insert(q)
	if err != nil {
		q.close()
		return -1, retagOp(err, op, 0)
	}
	l.met.queueOpened(q.kind())
	l.log.Debug("qio: queue created", zap.Int("qd", qd), zap.Stringer("kind", q.kind()))
	return qd, nil
}

func (l *Library) lookup(op string, qd int) (queue, error) {
	q, ok := l.table.get(qd)
	if !ok || q.isClosed() {
		return nil, newError(InvalidDescriptor, op, qd)
	}
	return q, nil
}

// =============================================================================
// Network operations
// =============================================================================

// Bind assigns a local address to a socket queue.
func (l *Library) Bind(qd int, sa unix.Sockaddr) error {
	q, err := l.lookup("bind", qd)
	if err != nil {
		return err
	}
	return withQD(q.bind(sa), qd)
}

// Listen marks a socket queue as passive.
func (l *Library) Listen(qd, backlog int) error {
	q, err := l.lookup("listen", qd)
	if err != nil {
		return err
	}
	return withQD(q.listen(backlog), qd)
}

// Connect starts connecting a socket queue to sa. It does not wait for the
// handshake: pushes and pops issued meanwhile start once the connection is
// up, and resolve with the connect failure if it never comes up.
func (l *Library) Connect(qd int, sa unix.Sockaddr) error {
	q, err := l.lookup("connect", qd)
	if err != nil {
		return err
	}
	return withQD(q.connect(sa), qd)
}

// Accept returns a new queue for the next established connection on a
// listening socket queue, with the peer address. It waits for a connection
// until ctx is done.
func (l *Library) Accept(ctx context.Context, qd int) (int, unix.Sockaddr, error) {
	q, err := l.lookup("accept", qd)
	if err != nil {
		return -1, nil, err
	}
	nq, sa, err := q.accept(ctx)
	if err != nil {
		return -1, nil, withQD(err, qd)
	}
	nqd, err := l.register("accept", nq)
	if err != nil {
		return -1, nil, err
	}
	return nqd, sa, nil
}

// SockName returns the local address of a socket queue.
func (l *Library) SockName(qd int) (unix.Sockaddr, error) {
	q, err := l.lookup("getsockname", qd)
	if err != nil {
		return nil, err
	}
	s, ok := q.(*socketQueue)
	if !ok {
		return nil, newError(UnsupportedOperation, "getsockname", qd)
	}
	return s.sockName()
}

// PeerName returns the remote address of a connected socket queue.
func (l *Library) PeerName(qd int) (unix.Sockaddr, error) {
	q, err := l.lookup("getpeername", qd)
	if err != nil {
		return nil, err
	}
	s, ok := q.(*socketQueue)
	if !ok {
		return nil, newError(UnsupportedOperation, "getpeername", qd)
	}
	return s.peerName()
}

// =============================================================================
// Descriptor management
// =============================================================================

// Close closes qd. Every outstanding token of the queue is resolved with
// Cancelled before Close returns. Composites built on qd are not closed;
// their later operations report the member as gone.
func (l *Library) Close(qd int) error {
	q, ok := l.table.remove(qd)
	if !ok {
		return newError(InvalidDescriptor, "close", qd)
	}
	l.met.queueClosed(q.kind())
	l.log.Debug("qio: queue closed", zap.Int("qd", qd), zap.Stringer("kind", q.kind()))
	return q.close()
}

// QD2FD returns the native fd behind a socket or file queue. Composites
// have none and report UnsupportedOperation.
func (l *Library) QD2FD(qd int) (int, error) {
	q, err := l.lookup("qd2fd", qd)
	if err != nil {
		return -1, err
	}
	return q.fd()
}

// Kind reports the variant of qd.
func (l *Library) Kind(qd int) (Kind, error) {
	q, err := l.lookup("kind", qd)
	if err != nil {
		return 0, err
	}
	return q.kind(), nil
}

// Len returns the number of open queues.
func (l *Library) Len() int {
	return l.table.len()
}

// Shutdown closes every open queue and stops the backend. Outstanding
// tokens resolve with Cancelled. Later calls fail with InvalidDescriptor.
func (l *Library) Shutdown() error {
	if !l.down.CompareAndSwapAcqRel(0, 1) {
		return newError(InvalidDescriptor, "shutdown", 0)
	}
	live := l.table.drain()
	qds := make([]int, 0, len(live))
	for qd := range live {
		qds = append(qds, qd)
	}
	// Composites first, so their tokens report their own closure rather
	// than a member's.
	sort.Slice(qds, func(i, j int) bool {
		ci, cj := isComposite(live[qds[i]]), isComposite(live[qds[j]])
		if ci != cj {
			return ci
		}
		return qds[i] > qds[j]
	})
	for _, qd := range qds {
		q := live[qd]
		l.met.queueClosed(q.kind())
		if err := q.close(); err != nil {
			l.log.Warn("qio: close on shutdown", zap.Int("qd", qd), zap.Error(err))
		}
	}
	l.eng.stop()
	l.log.Debug("qio: library stopped", zap.Int("closed", len(qds)))
	return nil
}

func isComposite(q queue) bool {
	k := q.kind()
	return k == KindMerge || k == KindFilter
}

// =============================================================================
// Data operations
// =============================================================================

// Push issues an asynchronous write of sga to qd and returns its token.
// The segments must not be modified until the token resolves.
func (l *Library) Push(qd int, sga SGArray) (QToken, error) {
	q, err := l.lookup("push", qd)
	if err != nil {
		return 0, err
	}
	c, err := l.issue(qd, OpPush)
	if err != nil {
		return 0, err
	}
	if err := q.push(c, sga); err != nil {
		l.discard(c)
		return 0, err
	}
	return c.tok, nil
}

// Pop issues an asynchronous read from qd and returns its token. The
// outcome's SGA holds the data; an empty SGA with no error is end of stream.
func (l *Library) Pop(qd int) (QToken, error) {
	q, err := l.lookup("pop", qd)
	if err != nil {
		return 0, err
	}
	c, err := l.issue(qd, OpPop)
	if err != nil {
		return 0, err
	}
	if err := q.pop(c); err != nil {
		l.discard(c)
		return 0, err
	}
	return c.tok, nil
}

// =============================================================================
// Token table
// =============================================================================

func (l *Library) issue(qd int, op OpKind) (*completion, error) {
	l.tokMu.Lock()
	if l.pending >= l.opts.maxPending {
		l.tokMu.Unlock()
		e := newError(ResourceExhausted, op.String(), qd)
		e.Errno = unix.ENOBUFS
		return nil, e
	}
	tok := QToken(l.nextTok.AddAcqRel(1))
	c := newCompletion(tok, qd, op)
	c.counted = true
	l.tokens[tok] = c
	l.pending++
	l.tokMu.Unlock()

	c.then(func(o Outcome) { l.settled(c, o) })
	l.met.tokenIssued(op)
	return c, nil
}

// discard forgets a token whose operation was never taken by its queue.
func (l *Library) discard(c *completion) {
	l.tokMu.Lock()
	delete(l.tokens, c.tok)
	l.uncount(c)
	l.tokMu.Unlock()
}

func (l *Library) settled(c *completion, o Outcome) {
	l.tokMu.Lock()
	l.uncount(c)
	l.tokMu.Unlock()
	l.met.tokenResolved(o)
}

// uncount drops c from the pending count once. Caller holds tokMu.
func (l *Library) uncount(c *completion) {
	if c.counted {
		c.counted = false
		l.pending--
	}
}

// find returns the completion for tok.
func (l *Library) find(op string, tok QToken) (*completion, error) {
	l.tokMu.Lock()
	c := l.tokens[tok]
	l.tokMu.Unlock()
	if c == nil {
		e := newError(InvalidDescriptor, op, 0)
		e.Errno = unix.EINVAL
		return nil, e
	}
	return c, nil
}

// deliver records that a wait or poll has returned c's outcome. Delivered
// tokens stay queryable until Retain newer deliveries push them out.
func (l *Library) deliver(c *completion) {
	tok := c.tok
	l.tokMu.Lock()
	defer l.tokMu.Unlock()
	if c.delivered || l.tokens[tok] != c {
		return
	}
	c.delivered = true
	l.retained = append(l.retained, tok)
	for len(l.retained) > l.opts.retain {
		delete(l.tokens, l.retained[0])
		l.retained = l.retained[1:]
	}
}

// Release forgets tokens. A released token that has not resolved yet still
// runs to completion, but its outcome can no longer be queried.
func (l *Library) Release(tokens ...QToken) {
	l.tokMu.Lock()
	defer l.tokMu.Unlock()
	for _, tok := range tokens {
		c := l.tokens[tok]
		if c == nil {
			continue
		}
		l.uncount(c)
		delete(l.tokens, tok)
	}
}
