// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package qio provides queue-oriented asynchronous I/O.
//
// Sockets and files are unified under integer queue descriptors (qd). Reads
// and writes are asynchronous: [Library.Push] and [Library.Pop] return a
// completion token immediately, and [Library.WaitAny] or [Library.WaitAll]
// block until tokens resolve.
//
// Queue variants:
//
//   - Socket: created by Socket, SocketPair or Accept
//   - File: created by Open, OpenMode or Creat
//   - Merge: fan-out push and fan-in pop over two queues
//   - Filter: pop yields only the items a [Predicate] accepts
//
// # Quick Start
//
//	lib, err := qio.New().Build()
//	if err != nil {
//	    return err
//	}
//	defer lib.Shutdown()
//
//	a, b, _ := lib.SocketPair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
//	pt, _ := lib.Push(a, qio.NewSGArray([]byte("hello")))
//	qt, _ := lib.Pop(b)
//
//	outs, err := lib.WaitAll(ctx, []qio.QToken{pt, qt})
//	fmt.Printf("%s\n", outs[1].SGA.Bytes()) // hello
//
// # Tokens
//
// A token resolves exactly once, with success, an OperationFailed error
// carrying the backend errno, or Cancelled when its queue is closed first.
// Resolved outcomes stay queryable: waiting again on a token returns the
// same outcome at once. The most recent [Builder.Retain] delivered outcomes
// are kept; [Library.Release] forgets tokens early.
//
// A token may be held by one wait call at a time. A second concurrent wait
// on it fails with [ErrTokenBusy].
//
// # Framing
//
// qio adds no framing. A pop on a stream socket yields the bytes available,
// a pop on a SOCK_SEQPACKET or SOCK_DGRAM socket yields one message, and a
// pop on a file yields the next chunk. An empty successful pop is end of
// stream. A message longer than [Builder.ReadBufferSize] fails its pop with
// EMSGSIZE rather than arriving cut short.
//
// # Composites
//
// Merge and Filter never own their members. A member may be closed on its
// own: pending composite operations then resolve Cancelled with
// [Error.Member] set, and later ones fail with InvalidDescriptor. Composites
// nest.
//
// # Error Handling
//
// Every failure is an [*Error] whose Kind is one of InvalidDescriptor,
// UnsupportedOperation, ResourceExhausted, OperationFailed or Cancelled.
// Match kinds with errors.Is against the sentinels:
//
//	o, done, err := lib.Poll(tok)
//	if err == nil && done && errors.Is(o.Err, qio.ErrCancelled) {
//	    // queue was closed
//	}
//
// [Errno] maps an error to the native errno a POSIX caller would see.
// The posix subpackage wraps a default Library in free functions that
// return -1 on failure.
//
// # Backend
//
// Socket and file queues are driven by one reactor goroutine per Library.
// Callers submit operations through a bounded lock-free MPSC ring and never
// block on I/O; the reactor performs non-blocking syscalls and parks in
// poll(2) when every fd would block. Close hands the fd to the reactor, so
// an fd number is never recycled while the reactor still polls it.
//
// # Observability
//
// [Builder.Logger] sets a zap logger (no-op by default) and
// [Builder.Registerer] exports Prometheus metrics under the qio namespace.
package qio
