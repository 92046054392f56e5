// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"sync"

	"code.hybscloud.com/iox"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// fdQueue is the part shared by the variants backed by a native fd. It owns
// the fd until close, at which point the reactor closes it.
type fdQueue struct {
	pending  pendingSet
	eng      *engine
	log      *zap.Logger
	sysfd    int
	qd       int
	readSize int
	msg      bool // datagram or seqpacket: one pop is one message

	stmu       sync.Mutex
	connecting bool
	connErr    error
}

func newFDQueue(eng *engine, log *zap.Logger, sysfd, readSize int) *fdQueue {
	return &fdQueue{eng: eng, log: log, sysfd: sysfd, readSize: readSize}
}

func (q *fdQueue) setQD(qd int) {
	q.qd = qd
}

func (q *fdQueue) push(c *completion, sga SGArray) error {
	return q.submitIO(opPush, "push", c, sga)
}

func (q *fdQueue) pop(c *completion) error {
	return q.submitIO(opPop, "pop", c, SGArray{})
}

func (q *fdQueue) submitIO(kind opKind, name string, c *completion, sga SGArray) error {
	if !q.pending.add(c) {
		return newError(InvalidDescriptor, name, q.qd)
	}
	if err := q.connectError(); err != nil {
		c.fail(retagOp(err, name, q.qd))
		return nil
	}
	if err := q.eng.submit(&ioOp{kind: kind, q: q, c: c, sga: sga, orig: sga}); err != nil {
		q.pending.remove(c)
		return retagOp(err, name, q.qd)
	}
	return nil
}

// close cancels every outstanding operation, then has the reactor drop and
// close the fd so the number cannot be recycled under a live poll set.
func (q *fdQueue) close() error {
	if !q.pending.shut() {
		return newError(InvalidDescriptor, "close", q.qd)
	}
	op := &ioOp{kind: opDetach, q: q, done: make(chan struct{})}
	var backoff iox.Backoff
	for {
		err := q.eng.submit(op)
		if err == nil {
			break
		}
		if KindOf(err) != ResourceExhausted {
			// Reactor stopped: nothing polls this fd any more.
			if cerr := unix.Close(q.sysfd); cerr != nil {
				return failure("close", q.qd, cerr)
			}
			return nil
		}
		// The reactor may still poll the fd, so only it may close it.
		backoff.Wait()
	}
	<-op.done
	q.log.Debug("qio: fd released", zap.Int("qd", q.qd), zap.Int("fd", q.sysfd))
	return nil
}

func (q *fdQueue) fd() (int, error) {
	if q.pending.isClosed() {
		return -1, newError(InvalidDescriptor, "qd2fd", q.qd)
	}
	return q.sysfd, nil
}

func (q *fdQueue) isClosed() bool {
	return q.pending.isClosed()
}

func (q *fdQueue) isConnecting() bool {
	q.stmu.Lock()
	defer q.stmu.Unlock()
	return q.connecting
}

func (q *fdQueue) connectError() error {
	q.stmu.Lock()
	defer q.stmu.Unlock()
	return q.connErr
}

// finishConnect settles a non-blocking connect after the fd polled ready.
func (q *fdQueue) finishConnect() {
	soerr, err := unix.GetsockoptInt(q.sysfd, unix.SOL_SOCKET, unix.SO_ERROR)
	q.stmu.Lock()
	defer q.stmu.Unlock()
	if !q.connecting {
		return
	}
	q.connecting = false
	switch {
	case err != nil:
		q.connErr = failure("connect", q.qd, err)
	case soerr != 0:
		q.connErr = failure("connect", q.qd, unix.Errno(soerr))
	}
	if q.connErr != nil {
		q.log.Debug("qio: connect failed", zap.Int("qd", q.qd), zap.Error(q.connErr))
	}
}
