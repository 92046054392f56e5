// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// sockState tracks where a socket queue is in its lifecycle.
type sockState uint8

const (
	sockUnbound sockState = iota
	sockBound
	sockListening
	sockConnecting
	sockConnected
)

// socketQueue is the connection/listening-socket variant.
type socketQueue struct {
	*fdQueue
	state sockState // guarded by fdQueue.stmu
}

func newSocketQueue(eng *engine, log *zap.Logger, sysfd, readSize int, state sockState) *socketQueue {
	q := newFDQueue(eng, log, sysfd, readSize)
	q.msg = isMessageSocket(sysfd)
	return &socketQueue{fdQueue: q, state: state}
}

func isMessageSocket(fd int) bool {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	return err == nil && (typ == unix.SOCK_DGRAM || typ == unix.SOCK_SEQPACKET)
}

// openSocket creates a non-blocking, close-on-exec native socket.
func openSocket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return -1, err
	}
	if err := prepareFD(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func prepareFD(fd int) error {
	unix.CloseOnExec(fd)
	return unix.SetNonblock(fd, true)
}

func (s *socketQueue) kind() Kind {
	return KindSocket
}

func (s *socketQueue) bind(sa unix.Sockaddr) error {
	if s.isClosed() {
		return newError(InvalidDescriptor, "bind", s.qd)
	}
	if err := unix.Bind(s.sysfd, sa); err != nil {
		return failure("bind", s.qd, err)
	}
	s.stmu.Lock()
	if s.state == sockUnbound {
		s.state = sockBound
	}
	s.stmu.Unlock()
	return nil
}

func (s *socketQueue) listen(backlog int) error {
	if s.isClosed() {
		return newError(InvalidDescriptor, "listen", s.qd)
	}
	s.stmu.Lock()
	defer s.stmu.Unlock()
	if s.state == sockConnecting || s.state == sockConnected {
		return failure("listen", s.qd, unix.EISCONN)
	}
	if err := unix.Listen(s.sysfd, backlog); err != nil {
		return failure("listen", s.qd, err)
	}
	s.state = sockListening
	return nil
}

// connect starts a connection without blocking. When the kernel reports
// EINPROGRESS the socket enters the connecting state and the reactor settles
// it; pushes and pops queue up behind it.
func (s *socketQueue) connect(sa unix.Sockaddr) error {
	if s.isClosed() {
		return newError(InvalidDescriptor, "connect", s.qd)
	}
	s.stmu.Lock()
	if errno := s.connectBlocker(); errno != 0 {
		s.stmu.Unlock()
		return failure("connect", s.qd, errno)
	}

	err := unix.Connect(s.sysfd, sa)
	if err == unix.EINTR {
		// The attempt keeps going in the kernel after EINTR.
		err = unix.EINPROGRESS
	}
	switch err {
	case nil:
		s.state = sockConnected
		s.connErr = nil
		s.stmu.Unlock()
		return nil
	case unix.EINPROGRESS:
		s.state = sockConnecting
		s.connecting = true
		s.connErr = nil
		s.stmu.Unlock()
	default:
		s.stmu.Unlock()
		return failure("connect", s.qd, err)
	}

	if err := s.eng.submit(&ioOp{kind: opConnect, q: s.fdQueue}); err != nil {
		s.stmu.Lock()
		s.connecting = false
		s.connErr = retagOp(err, "connect", s.qd)
		s.stmu.Unlock()
		return s.connErr
	}
	return nil
}

// accept returns the next established connection. It is the one operation
// that may wait: when the backlog is empty it parks on the reactor's
// readability report for the listener, bounded by ctx.
func (s *socketQueue) accept(ctx context.Context) (queue, unix.Sockaddr, error) {
	for {
		if s.isClosed() {
			return nil, nil, newError(InvalidDescriptor, "accept", s.qd)
		}
		nfd, sa, err := unix.Accept(s.sysfd)
		switch err {
		case nil:
			if err := prepareFD(nfd); err != nil {
				unix.Close(nfd)
				return nil, nil, failure("accept", s.qd, err)
			}
			return newSocketQueue(s.eng, s.log, nfd, s.readSize, sockConnected), sa, nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
		default:
			return nil, nil, failure("accept", s.qd, err)
		}

		if err := s.awaitReadable(ctx); err != nil {
			return nil, nil, err
		}
	}
}

func (s *socketQueue) awaitReadable(ctx context.Context) error {
	c := newCompletion(0, s.qd, OpPop)
	if !s.pending.add(c) {
		return newError(Cancelled, "accept", s.qd)
	}
	if err := s.eng.submit(&ioOp{kind: opAccept, q: s.fdQueue, c: c}); err != nil {
		s.pending.remove(c)
		return retagOp(err, "accept", s.qd)
	}
	ready := make(chan Outcome, 1)
	c.then(func(o Outcome) { ready <- o })
	select {
	case o := <-ready:
		if o.Err != nil {
			return retagOp(o.Err, "accept", s.qd)
		}
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

// connectBlocker returns the errno connect must fail with in the current
// state, or 0. Caller holds stmu.
func (s *socketQueue) connectBlocker() unix.Errno {
	switch s.state {
	case sockListening:
		return unix.EINVAL
	case sockConnected:
		return unix.EISCONN
	case sockConnecting:
		if s.connecting {
			return unix.EALREADY
		}
		if s.connErr == nil {
			return unix.EISCONN
		}
	}
	return 0
}

func (s *socketQueue) sockName() (unix.Sockaddr, error) {
	if s.isClosed() {
		return nil, newError(InvalidDescriptor, "getsockname", s.qd)
	}
	sa, err := unix.Getsockname(s.sysfd)
	if err != nil {
		return nil, failure("getsockname", s.qd, err)
	}
	return sa, nil
}

func (s *socketQueue) peerName() (unix.Sockaddr, error) {
	if s.isClosed() {
		return nil, newError(InvalidDescriptor, "getpeername", s.qd)
	}
	sa, err := unix.Getpeername(s.sysfd)
	if err != nil {
		return nil, failure("getpeername", s.qd, err)
	}
	return sa, nil
}
