// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/qio"
	"golang.org/x/sys/unix"
)

const testTimeout = 5 * time.Second

// newLib builds a Library that is shut down when the test ends.
func newLib(t *testing.T, b *qio.Builder) *qio.Library {
	t.Helper()
	if b == nil {
		b = qio.New()
	}
	lib, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { lib.Shutdown() })
	return lib
}

// seqpair returns two connected message-preserving socket queues.
func seqpair(t *testing.T, lib *qio.Library) (int, int) {
	t.Helper()
	a, b, err := lib.SocketPair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	return a, b
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func push(t *testing.T, lib *qio.Library, qd int, payload string) qio.QToken {
	t.Helper()
	tok, err := lib.Push(qd, qio.NewSGArray([]byte(payload)))
	if err != nil {
		t.Fatalf("Push(%d): %v", qd, err)
	}
	return tok
}

func pop(t *testing.T, lib *qio.Library, qd int) qio.QToken {
	t.Helper()
	tok, err := lib.Pop(qd)
	if err != nil {
		t.Fatalf("Pop(%d): %v", qd, err)
	}
	return tok
}

// wait waits for tok and fails the test on a wait error.
func wait(t *testing.T, lib *qio.Library, tok qio.QToken) qio.Outcome {
	t.Helper()
	_, o, err := lib.WaitAny(testCtx(t), []qio.QToken{tok})
	if err != nil {
		t.Fatalf("WaitAny(%d): %v", tok, err)
	}
	return o
}

// popString pops one item from qd and returns it as a string.
func popString(t *testing.T, lib *qio.Library, qd int) string {
	t.Helper()
	o := wait(t, lib, pop(t, lib, qd))
	if o.Err != nil {
		t.Fatalf("pop outcome on %d: %v", qd, o.Err)
	}
	return string(o.SGA.Bytes())
}

func wantKind(t *testing.T, what string, err error, kind qio.ErrorKind) {
	t.Helper()
	if got := qio.KindOf(err); got != kind {
		t.Fatalf("%s: got kind %v (%v), want %v", what, got, err, kind)
	}
}

func asError(t *testing.T, err error) *qio.Error {
	t.Helper()
	var e *qio.Error
	if !errors.As(err, &e) {
		t.Fatalf("error %v is not *qio.Error", err)
	}
	return e
}

// eventually retries check until it succeeds or the test times out.
func eventually(t *testing.T, check func() error) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		err := check()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
}
