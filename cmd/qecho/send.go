// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"code.hybscloud.com/qio"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func newSendCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Push payloads to an echo server and verify the echoes",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			defer log.Sync()
			size, err := humanize.ParseBytes(v.GetString("size"))
			if err != nil {
				return fmt.Errorf("parse --size: %w", err)
			}
			count := v.GetInt("count")
			if size == 0 || count < 1 {
				return fmt.Errorf("--size and --count must be positive")
			}
			lib, err := newLibrary(v, log)
			if err != nil {
				return err
			}
			defer lib.Shutdown()

			st, err := send(cmd.Context(), lib, log, v.GetString("addr"), count, int(size))
			if err != nil {
				return err
			}
			st.report(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().Int("count", 1000, "number of payloads to send")
	cmd.Flags().String("size", "1KiB", "payload size")
	bindFlags(v, cmd.Flags())
	return cmd
}

type sendStats struct {
	count   int
	bytes   int
	elapsed time.Duration
}

func (s sendStats) report(w io.Writer) {
	rate := 0.0
	if s.elapsed > 0 {
		rate = float64(s.bytes) / s.elapsed.Seconds()
	}
	fmt.Fprintf(w, "%s payloads, %s echoed in %s (%s/s)\n",
		humanize.Comma(int64(s.count)),
		humanize.IBytes(uint64(s.bytes)),
		s.elapsed.Round(time.Millisecond),
		humanize.IBytes(uint64(rate)))
}

func send(ctx context.Context, lib *qio.Library, log *zap.Logger, addr string, count, size int) (sendStats, error) {
	sa, family, err := sockaddr(addr)
	if err != nil {
		return sendStats{}, err
	}
	qd, err := lib.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return sendStats{}, err
	}
	defer lib.Close(qd)
	if err := lib.Connect(qd, sa); err != nil {
		return sendStats{}, err
	}
	log.Debug("connecting", zap.String("addr", addr), zap.Int("qd", qd))

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	start := time.Now()
	st := sendStats{}
	for range count {
		if _, err := await(ctx, lib, qd, func(qd int) (qio.QToken, error) {
			return lib.Push(qd, qio.NewSGArray(payload))
		}); err != nil {
			return st, err
		}
		// A stream pop may return part of the echo; collect until whole.
		got := make([]byte, 0, size)
		for len(got) < size {
			o, err := await(ctx, lib, qd, lib.Pop)
			if err != nil {
				return st, err
			}
			if o.SGA.Len() == 0 {
				return st, fmt.Errorf("server closed after %d of %d bytes", len(got), size)
			}
			got = append(got, o.SGA.Bytes()...)
		}
		if !bytes.Equal(got, payload) {
			return st, fmt.Errorf("echo %d mismatch", st.count)
		}
		st.count++
		st.bytes += size
	}
	st.elapsed = time.Since(start)
	return st, nil
}
