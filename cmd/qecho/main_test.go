// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"code.hybscloud.com/qio"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func TestSockaddr(t *testing.T) {
	tests := []struct {
		addr   string
		family int
	}{
		{"127.0.0.1:7000", unix.AF_INET},
		{"[::1]:7001", unix.AF_INET6},
		{":7002", unix.AF_INET},
	}
	for _, tt := range tests {
		sa, family, err := sockaddr(tt.addr)
		if err != nil {
			t.Fatalf("sockaddr(%q): %v", tt.addr, err)
		}
		if family != tt.family {
			t.Errorf("sockaddr(%q) family: got %d, want %d", tt.addr, family, tt.family)
		}
		_, port, _ := net.SplitHostPort(formatSockaddr(sa))
		_, wantPort, _ := net.SplitHostPort(tt.addr)
		if port != wantPort {
			t.Errorf("formatSockaddr(sockaddr(%q)): port %s, want %s", tt.addr, port, wantPort)
		}
	}
	if _, _, err := sockaddr("no-port"); err == nil {
		t.Fatal("sockaddr(no-port): expected error")
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	sendStats{count: 1500, bytes: 3 << 20, elapsed: 2 * time.Second}.report(&buf)
	if got, want := buf.String(), "1,500 payloads, 3.0 MiB echoed in 2s (1.5 MiB/s)\n"; got != want {
		t.Fatalf("report: got %q, want %q", got, want)
	}

	buf.Reset()
	sendStats{}.report(&buf)
	if !strings.Contains(buf.String(), "(0 B/s)") {
		t.Fatalf("report with zero elapsed: got %q", buf.String())
	}
}

func TestEcho(t *testing.T) {
	lib, err := qio.New().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { lib.Shutdown() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv, cli, err := lib.SocketPair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := echo(ctx, lib, srv)
		done <- result{n, err}
	}()

	for _, msg := range []string{"hello", "queue"} {
		if _, err := await(ctx, lib, cli, func(qd int) (qio.QToken, error) {
			return lib.Push(qd, qio.NewSGArray([]byte(msg)))
		}); err != nil {
			t.Fatalf("push %q: %v", msg, err)
		}
		o, err := await(ctx, lib, cli, lib.Pop)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if got := string(o.SGA.Bytes()); got != msg {
			t.Fatalf("echo: got %q, want %q", got, msg)
		}
	}

	fd, err := lib.QD2FD(cli)
	if err != nil {
		t.Fatalf("QD2FD: %v", err)
	}
	if err := unix.Shutdown(fd, unix.SHUT_WR); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	r := <-done
	if r.err != nil || r.n != 10 {
		t.Fatalf("echo: got (%d, %v), want (10, nil)", r.n, r.err)
	}
}

// TestServeAndSend runs the server and the client against each other on a
// loopback port.
func TestServeAndSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback unavailable: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	newLib := func() *qio.Library {
		lib, err := qio.New().ReadBufferSize(512).Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		t.Cleanup(func() { lib.Shutdown() })
		return lib
	}
	log := zap.NewNop()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	server := newLib()
	go func() { served <- serve(ctx, server, log, addr, 16) }()

	client := newLib()
	deadline := time.Now().Add(10 * time.Second)
	var st sendStats
	for {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err = send(sctx, client, log, addr, 20, 2000)
		scancel()
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if st.count != 20 || st.bytes != 40000 {
		t.Fatalf("stats: got %+v", st)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestRootCommandRejectsBadLogLevel(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--log-level", "loud", "send", "--addr", "127.0.0.1:1"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute with bad log level: expected error")
	}
}
