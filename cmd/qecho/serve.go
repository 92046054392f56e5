// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"

	"code.hybscloud.com/qio"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			defer log.Sync()
			lib, err := newLibrary(v, log)
			if err != nil {
				return err
			}
			defer lib.Shutdown()
			return serve(cmd.Context(), lib, log, v.GetString("addr"), v.GetInt("backlog"))
		},
	}
	cmd.Flags().Int("backlog", 128, "listen backlog")
	bindFlags(v, cmd.Flags())
	return cmd
}

func serve(ctx context.Context, lib *qio.Library, log *zap.Logger, addr string, backlog int) error {
	sa, family, err := sockaddr(addr)
	if err != nil {
		return err
	}
	lqd, err := lib.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	fd, err := lib.QD2FD(lqd)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	if err := lib.Bind(lqd, sa); err != nil {
		return err
	}
	if err := lib.Listen(lqd, backlog); err != nil {
		return err
	}
	log.Info("listening", zap.String("addr", addr), zap.Int("qd", lqd))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			qd, peer, err := lib.Accept(gctx, lqd)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			log.Debug("accepted", zap.Int("qd", qd), zap.String("peer", formatSockaddr(peer)))
			g.Go(func() error {
				n, err := echo(gctx, lib, qd)
				lib.Close(qd)
				fields := []zap.Field{zap.Int("qd", qd), zap.String("moved", humanize.IBytes(uint64(n)))}
				if err != nil && gctx.Err() == nil {
					log.Warn("connection failed", append(fields, zap.Error(err))...)
					return nil
				}
				log.Debug("connection closed", fields...)
				return nil
			})
		}
	})
	return g.Wait()
}

// echo pushes back every item popped from qd until end of stream and
// returns the number of bytes echoed.
func echo(ctx context.Context, lib *qio.Library, qd int) (int, error) {
	total := 0
	for {
		o, err := await(ctx, lib, qd, lib.Pop)
		if err != nil {
			return total, err
		}
		if o.SGA.Len() == 0 {
			return total, nil
		}
		data := o.SGA
		if _, err := await(ctx, lib, qd, func(qd int) (qio.QToken, error) { return lib.Push(qd, data) }); err != nil {
			return total, err
		}
		total += data.Len()
	}
}

// await issues one operation and waits for its outcome.
func await(ctx context.Context, lib *qio.Library, qd int, issue func(int) (qio.QToken, error)) (qio.Outcome, error) {
	tok, err := issue(qd)
	if err != nil {
		return qio.Outcome{}, err
	}
	_, o, err := lib.WaitAny(ctx, []qio.QToken{tok})
	if err != nil {
		return qio.Outcome{}, err
	}
	lib.Release(tok)
	if o.Err != nil {
		if errors.Is(o.Err, qio.ErrCancelled) {
			return o, context.Canceled
		}
		return o, o.Err
	}
	return o, nil
}
