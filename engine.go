// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"
	"sync"

	"code.hybscloud.com/atomix"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// opKind is the reactor-level operation kind.
type opKind uint8

const (
	opPush    opKind = iota + 1
	opPop            // read into a fresh buffer
	opAccept         // wake an Accept caller once the listener is readable
	opConnect        // watch a non-blocking connect until it settles
	opDetach         // drop the fd from the poll set and close it
)

// ioOp is one submission to the reactor.
type ioOp struct {
	q    *fdQueue
	c    *completion
	sga  SGArray // push: bytes not yet written
	orig SGArray // push: the array handed to push
	buf  []byte  // pop: read buffer, allocated on first attempt
	sent int
	done chan struct{} // detach: closed once the fd is closed
	kind opKind
}

// fdState is the reactor-owned view of one fd-backed queue. Only the reactor
// goroutine touches it.
type fdState struct {
	q        *fdQueue
	pushes   []*ioOp
	pops     []*ioOp
	accepts  []*ioOp
	tryRead  bool
	tryWrite bool
}

// engine is the reference backend: one reactor goroutine per Library that
// performs non-blocking syscalls and parks on unix.Poll when every fd with
// pending work would block.
//
// Callers never touch fdState. They enqueue ioOps on a lock-free MPSC ring
// and wake the reactor through a self-pipe.
type engine struct {
	ring        *subRing
	states      map[*fdQueue]*fdState
	log         *zap.Logger
	done        chan struct{}
	life        sync.RWMutex // write-held only while stopping
	wakeR       int
	wakeW       int
	submitLimit int
	wakePending atomix.Uint64
	stopped     bool // guarded by life
	stopping    atomix.Bool
}

func newEngine(ringCap, submitLimit int, log *zap.Logger) (*engine, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, failure("engine", 0, err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, failure("engine", 0, err)
		}
	}
	e := &engine{
		ring:        newSubRing(ringCap),
		states:      make(map[*fdQueue]*fdState),
		log:         log,
		done:        make(chan struct{}),
		wakeR:       p[0],
		wakeW:       p[1],
		submitLimit: submitLimit,
	}
	go e.run()
	return e, nil
}

// submit hands op to the reactor. It fails with ResourceExhausted when the
// ring stays full, and with InvalidDescriptor once the engine is stopped.
func (e *engine) submit(op *ioOp) error {
	e.life.RLock()
	defer e.life.RUnlock()
	if e.stopped {
		return newError(InvalidDescriptor, "submit", 0)
	}
	if err := e.ring.submit(op, e.submitLimit); err != nil {
		x := newError(ResourceExhausted, "submit", 0)
		x.Errno = unix.EAGAIN
		x.Err = err
		return x
	}
	e.wake()
	return nil
}

func (e *engine) wake() {
	if !e.wakePending.CompareAndSwapAcqRel(0, 1) {
		return
	}
	var b [1]byte
	for {
		_, err := unix.Write(e.wakeW, b[:])
		if err != unix.EINTR {
			return
		}
	}
}

// stop terminates the reactor and waits for it. Submissions after stop fail;
// detach requests still queued are honored so no fd leaks.
func (e *engine) stop() {
	e.life.Lock()
	if e.stopped {
		e.life.Unlock()
		<-e.done
		return
	}
	e.stopped = true
	e.stopping.StoreRelease(true)
	e.life.Unlock()

	e.wakePending.StoreRelease(0)
	e.wake()
	<-e.done
}

func (e *engine) run() {
	defer close(e.done)
	fds := make([]unix.PollFd, 0, 16)
	owners := make([]*fdState, 0, 16)
	for {
		e.wakePending.StoreRelease(0)
		e.drainWake()
		e.drainRing()
		if e.stopping.LoadAcquire() {
			break
		}

		fds = append(fds[:0], unix.PollFd{Fd: int32(e.wakeR), Events: unix.POLLIN})
		owners = owners[:0]
		for _, s := range e.states {
			if ev := e.progress(s); ev != 0 {
				fds = append(fds, unix.PollFd{Fd: int32(s.q.sysfd), Events: ev})
				owners = append(owners, s)
			}
		}

		_, err := unix.Poll(fds, -1)
		if err != nil {
			if err != unix.EINTR {
				e.log.Warn("qio: poll failed", zap.Error(err))
			}
			continue
		}
		for i, s := range owners {
			e.ready(s, fds[i+1].Revents)
		}
	}
	e.finish()
}

func (e *engine) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(e.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (e *engine) drainRing() {
	for {
		op, err := e.ring.dequeue()
		if err != nil {
			return
		}
		e.file(op)
	}
}

// file records a dequeued op under its fd's state.
func (e *engine) file(op *ioOp) {
	if op.kind == opDetach {
		delete(e.states, op.q)
		if err := unix.Close(op.q.sysfd); err != nil {
			e.log.Warn("qio: close fd", zap.Int("fd", op.q.sysfd), zap.Error(err))
		}
		close(op.done)
		return
	}

	s := e.states[op.q]
	if s == nil {
		if op.q.isClosed() {
			// Submitted after the queue's detach; close already cancelled it.
			if op.c != nil {
				op.c.cancel()
			}
			return
		}
		s = &fdState{q: op.q}
		e.states[op.q] = s
	}
	switch op.kind {
	case opPush:
		s.pushes = append(s.pushes, op)
		s.tryWrite = true
	case opPop:
		s.pops = append(s.pops, op)
		s.tryRead = true
	case opAccept:
		s.accepts = append(s.accepts, op)
	case opConnect:
		// Interest is derived from the queue's connecting flag.
	}
}

// progress runs every operation on s that can complete without blocking and
// returns the poll events s still waits for.
func (e *engine) progress(s *fdState) int16 {
	var ev int16
	if s.q.isConnecting() {
		return unix.POLLOUT
	}
	if err := s.q.connectError(); err != nil {
		s.failAll(err)
		return 0
	}

	if s.tryWrite {
		s.tryWrite = e.writeSome(s)
	}
	if len(s.pushes) > 0 {
		ev |= unix.POLLOUT
	}
	if s.tryRead {
		s.tryRead = e.readSome(s)
	}
	if len(s.pops) > 0 {
		ev |= unix.POLLIN
	}

	s.accepts = pruneResolved(s.accepts)
	if len(s.accepts) > 0 {
		ev |= unix.POLLIN
	}
	return ev
}

// ready records poll results for s.
func (e *engine) ready(s *fdState, revents int16) {
	if revents == 0 {
		return
	}
	if s.q.isConnecting() {
		s.q.finishConnect()
		s.tryRead, s.tryWrite = true, true
		return
	}
	broken := revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
	if revents&unix.POLLIN != 0 || broken {
		s.tryRead = true
		for _, op := range s.accepts {
			op.c.succeed(SGArray{}, 0)
		}
		s.accepts = s.accepts[:0]
	}
	if revents&unix.POLLOUT != 0 || broken {
		s.tryWrite = true
	}
}

// writeSome drains pushes in order until one would block. It reports
// whether the fd is still worth writing to without a poll.
func (e *engine) writeSome(s *fdState) bool {
	for len(s.pushes) > 0 {
		op := s.pushes[0]
		if op.c.isResolved() {
			s.pushes = dropHead(s.pushes)
			continue
		}
		if op.sga.Len() == 0 {
			op.c.succeed(op.orig, op.sent)
			s.pushes = dropHead(s.pushes)
			continue
		}
		n, err := writev(s.q.sysfd, op.sga.Segs)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return false
		case err != nil:
			op.c.fail(failure("push", s.q.qd, err))
			s.pushes = dropHead(s.pushes)
			continue
		case n == 0:
			return false
		}
		op.sent += n
		op.sga = op.sga.advance(n)
	}
	return true
}

// readSome serves pops in order until a read would block.
func (e *engine) readSome(s *fdState) bool {
	for len(s.pops) > 0 {
		op := s.pops[0]
		if op.c.isResolved() {
			s.pops = dropHead(s.pops)
			continue
		}
		if op.buf == nil {
			op.buf = make([]byte, s.q.readSize)
		}
		n, err := readOne(s.q, op.buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return false
		case err != nil:
			op.c.fail(failure("pop", s.q.qd, err))
		default:
			op.c.succeed(NewSGArray(op.buf[:n]), n)
		}
		s.pops = dropHead(s.pops)
	}
	return true
}

// readOne reads the next chunk of a stream, or the next whole message of a
// message socket. A message longer than buf fails with EMSGSIZE; the kernel
// has already discarded its tail.
func readOne(q *fdQueue, buf []byte) (int, error) {
	if !q.msg {
		return unix.Read(q.sysfd, buf)
	}
	n, _, flags, _, err := unix.Recvmsg(q.sysfd, buf, nil, 0)
	if err != nil {
		return 0, err
	}
	if flags&unix.MSG_TRUNC != 0 {
		return 0, unix.EMSGSIZE
	}
	return n, nil
}

// failAll resolves every queued operation on s with err.
func (s *fdState) failAll(err error) {
	for _, op := range s.pushes {
		op.c.fail(retagOp(err, "push", s.q.qd))
	}
	for _, op := range s.pops {
		op.c.fail(retagOp(err, "pop", s.q.qd))
	}
	for _, op := range s.accepts {
		op.c.fail(err)
	}
	s.pushes, s.pops, s.accepts = nil, nil, nil
}

// finish runs on the reactor after stop: queued detaches are honored and
// everything else is cancelled.
func (e *engine) finish() {
	for {
		op, err := e.ring.dequeue()
		if err != nil {
			break
		}
		if op.kind == opDetach {
			e.file(op)
			continue
		}
		if op.c != nil {
			op.c.cancel()
		}
	}
	for q, s := range e.states {
		s.failAll(newError(Cancelled, "shutdown", q.qd))
		delete(e.states, q)
	}
	unix.Close(e.wakeR)
	unix.Close(e.wakeW)
}

func dropHead(ops []*ioOp) []*ioOp {
	ops[0] = nil
	ops = ops[1:]
	if len(ops) == 0 {
		return nil
	}
	return ops
}

func pruneResolved(ops []*ioOp) []*ioOp {
	kept := ops[:0]
	for _, op := range ops {
		if !op.c.isResolved() {
			kept = append(kept, op)
		}
	}
	return kept
}

func retagOp(err error, op string, qd int) error {
	var e *Error
	if errors.As(err, &e) {
		c := *e
		c.Op = op
		c.QD = qd
		return &c
	}
	return failure(op, qd, err)
}
