// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"strings"

	"code.hybscloud.com/qio"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "qecho",
		Short:         "TCP echo server and client over queue-oriented async I/O",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.String("addr", "127.0.0.1:7000", "TCP address to listen on or connect to")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "human-readable development logging")
	flags.Int("max-queues", qio.DefaultMaxQueues, "maximum open queue descriptors")
	flags.String("read-buffer", humanize.IBytes(qio.DefaultReadBufferSize), "pop buffer size per socket (e.g. 64KiB)")
	bindFlags(v, flags)

	cmd.AddCommand(newServeCommand(v), newSendCommand(v))
	return cmd
}

// bindFlags makes every flag of fs readable through v, with QECHO_
// environment overrides.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
	v.SetEnvPrefix("QECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(v.GetString("log-level")))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if v.GetBool("log-dev") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func newLibrary(v *viper.Viper, log *zap.Logger) (*qio.Library, error) {
	rb, err := humanize.ParseBytes(v.GetString("read-buffer"))
	if err != nil {
		return nil, fmt.Errorf("parse --read-buffer: %w", err)
	}
	if rb == 0 || v.GetInt("max-queues") < 1 {
		return nil, fmt.Errorf("--read-buffer and --max-queues must be positive")
	}
	return qio.New().
		MaxQueues(v.GetInt("max-queues")).
		ReadBufferSize(int(rb)).
		Logger(log.Named("qio")).
		Build()
}

// sockaddr resolves a host:port into a native socket address and its
// address family.
func sockaddr(addr string) (unix.Sockaddr, int, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}
	if ip4 := ta.IP.To4(); ip4 != nil || ta.IP == nil {
		sa := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: ta.Port}
	copy(sa.Addr[:], ta.IP.To16())
	return sa, unix.AF_INET6, nil
}

func formatSockaddr(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), fmt.Sprint(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), fmt.Sprint(a.Port))
	}
	return fmt.Sprintf("%v", sa)
}
