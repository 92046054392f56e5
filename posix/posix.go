// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package posix exposes a process-wide [qio.Library] through free functions
// shaped like their POSIX counterparts.
//
// Descriptor- and token-valued results are -1 on failure, and the error
// returned alongside converts to a native errno with [qio.Errno]:
//
//	qd, err := posix.Queue(unix.AF_INET, unix.SOCK_STREAM, 0)
//	if qd < 0 {
//	    return qio.Errno(err)
//	}
//
// The default library is built on first use with [qio.New] defaults, or
// with the builder passed to [Init] before that.
package posix

import (
	"context"
	"sync"

	"code.hybscloud.com/qio"
	"golang.org/x/sys/unix"
)

var (
	once    sync.Once
	builder = qio.New()
	lib     *qio.Library
	libErr  error
)

// Init configures the default library. It reports false if the library
// was already built.
func Init(b *qio.Builder) bool {
	set := false
	once.Do(func() {
		builder = b
		lib, libErr = builder.Build()
		set = true
	})
	return set
}

// Default returns the process-wide library, building it on first use.
func Default() (*qio.Library, error) {
	once.Do(func() {
		lib, libErr = builder.Build()
	})
	return lib, libErr
}

// Queue creates a socket queue, as socket(2) does.
func Queue(domain, typ, proto int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.Socket(domain, typ, proto)
}

// Bind assigns a local address to a socket queue, as bind(2) does.
func Bind(qd int, sa unix.Sockaddr) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return status(l.Bind(qd, sa))
}

// Accept waits for the next connection on a listening queue. It blocks
// until one arrives or the queue is closed.
func Accept(qd int) (int, unix.Sockaddr, error) {
	l, err := Default()
	if err != nil {
		return -1, nil, err
	}
	return l.Accept(context.Background(), qd)
}

// Listen marks a socket queue as accepting connections, as listen(2) does.
func Listen(qd, backlog int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return status(l.Listen(qd, backlog))
}

// Connect starts connecting a socket queue to sa without waiting for the
// handshake.
func Connect(qd int, sa unix.Sockaddr) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return status(l.Connect(qd, sa))
}

// Open opens a file queue, as open(2) does.
func Open(path string, flags int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.Open(path, flags)
}

// OpenMode opens a file queue with an explicit creation mode.
func OpenMode(path string, flags int, mode uint32) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.OpenMode(path, flags, mode)
}

// Creat creates or truncates a file for writing, as creat(2) does.
func Creat(path string, mode uint32) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.Creat(path, mode)
}

// Close closes qd and cancels its outstanding tokens.
func Close(qd int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return status(l.Close(qd))
}

// QD2FD returns the native fd behind qd.
func QD2FD(qd int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.QD2FD(qd)
}

// Push issues an asynchronous write and returns its token, or -1.
func Push(qd int, sga qio.SGArray) (int64, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return token(l.Push(qd, sga))
}

// Pop issues an asynchronous read and returns its token, or -1. The data
// arrives in the outcome returned by WaitAny or WaitAll.
func Pop(qd int) (int64, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return token(l.Pop(qd))
}

// WaitAny blocks until one of tokens resolves and returns its index, or -1.
func WaitAny(tokens []int64) (int, qio.Outcome, error) {
	l, err := Default()
	if err != nil {
		return -1, qio.Outcome{}, err
	}
	ts, err := qtokens(tokens)
	if err != nil {
		return -1, qio.Outcome{}, err
	}
	return l.WaitAny(context.Background(), ts)
}

// WaitAll blocks until every token resolves.
func WaitAll(tokens []int64) ([]qio.Outcome, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	ts, err := qtokens(tokens)
	if err != nil {
		return nil, err
	}
	return l.WaitAll(context.Background(), ts)
}

// Merge creates a composite queue over qd1 and qd2.
func Merge(qd1, qd2 int) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.Merge(qd1, qd2)
}

// Filter creates a composite queue over qd that pops only items pred
// accepts.
func Filter(qd int, pred qio.Predicate) (int, error) {
	l, err := Default()
	if err != nil {
		return -1, err
	}
	return l.Filter(qd, pred)
}

func status(err error) (int, error) {
	if err != nil {
		return -1, err
	}
	return 0, nil
}

func token(t qio.QToken, err error) (int64, error) {
	if err != nil {
		return -1, err
	}
	return int64(t), nil
}

func qtokens(tokens []int64) ([]qio.QToken, error) {
	ts := make([]qio.QToken, len(tokens))
	for i, t := range tokens {
		if t <= 0 {
			return nil, &qio.Error{Kind: qio.InvalidDescriptor, Op: "wait", Member: -1, Errno: unix.EINVAL}
		}
		ts[i] = qio.QToken(t)
	}
	return ts, nil
}
