// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Defaults used by [New].
const (
	DefaultMaxQueues      = 1024
	DefaultMaxPending     = 1 << 16
	DefaultRetain         = 4096
	DefaultReadBufferSize = 64 << 10
	DefaultSubmitCapacity = 1024

	// submitAttempts bounds the backoff loop on a full submission ring.
	submitAttempts = 64
)

// Options configures a Library.
type Options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer

	maxQueues  int // Descriptor space
	maxPending int // Unresolved token space
	retain     int // Resolved tokens kept for re-query
	readSize   int // Pop buffer size for fd-backed queues
	submitCap  int // Reactor submission ring (rounds up to next power of 2)
}

// Builder creates a Library with fluent configuration.
//
// Example:
//
//	lib, err := qio.New().MaxQueues(256).Logger(log).Build()
//	if err != nil {
//	    return err
//	}
//	defer lib.Shutdown()
//
// Invalid values panic at configuration time, like any other programming
// error; Build only fails when the backend cannot start.
type Builder struct {
	opts Options
}

// New creates a Builder with the default limits and a no-op logger.
func New() *Builder {
	return &Builder{opts: Options{
		maxQueues:  DefaultMaxQueues,
		maxPending: DefaultMaxPending,
		retain:     DefaultRetain,
		readSize:   DefaultReadBufferSize,
		submitCap:  DefaultSubmitCapacity,
	}}
}

// MaxQueues bounds the number of simultaneously open queues. Creating one
// more fails with ResourceExhausted.
//
// Panics if n < 1.
func (b *Builder) MaxQueues(n int) *Builder {
	if n < 1 {
		panic("qio: MaxQueues must be >= 1")
	}
	b.opts.maxQueues = n
	return b
}

// MaxPending bounds the number of unresolved tokens. Push or pop beyond it
// fails with ResourceExhausted.
//
// Panics if n < 1.
func (b *Builder) MaxPending(n int) *Builder {
	if n < 1 {
		panic("qio: MaxPending must be >= 1")
	}
	b.opts.maxPending = n
	return b
}

// Retain sets how many resolved tokens stay queryable before the oldest are
// forgotten. Zero forgets a token as soon as a wait call has returned it.
//
// Panics if n < 0.
func (b *Builder) Retain(n int) *Builder {
	if n < 0 {
		panic("qio: Retain must be >= 0")
	}
	b.opts.retain = n
	return b
}

// ReadBufferSize sets the buffer size a pop on a socket or file reads into.
// It bounds the message size on message sockets: a longer message fails its
// pop with EMSGSIZE.
//
// Panics if n < 1.
func (b *Builder) ReadBufferSize(n int) *Builder {
	if n < 1 {
		panic("qio: ReadBufferSize must be >= 1")
	}
	b.opts.readSize = n
	return b
}

// SubmitCapacity sets the reactor submission ring capacity.
// Capacity rounds up to the next power of 2.
//
// Panics if n < 2.
func (b *Builder) SubmitCapacity(n int) *Builder {
	if n < 2 {
		panic("qio: SubmitCapacity must be >= 2")
	}
	b.opts.submitCap = n
	return b
}

// Logger sets the structured logger. nil restores the no-op logger.
func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.opts.logger = l
	return b
}

// Registerer registers the Library's metrics with r.
func (b *Builder) Registerer(r prometheus.Registerer) *Builder {
	b.opts.registerer = r
	return b
}

// Build starts the backend and returns a ready Library.
func (b *Builder) Build() (*Library, error) {
	return newLibrary(b.opts)
}
