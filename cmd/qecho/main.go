// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command qecho is a TCP echo server and load client built on qio.
//
//	qecho serve --addr 127.0.0.1:7000
//	qecho send --addr 127.0.0.1:7000 --count 10000 --size 4KiB
//
// Every flag can also be set through a QECHO_ environment variable, with
// dashes turned into underscores (QECHO_LOG_LEVEL=debug).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "qecho: %s\n", err)
		}
		return 1
	}
	return 0
}
