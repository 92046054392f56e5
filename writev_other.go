// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix && !linux

package qio

import "golang.org/x/sys/unix"

// writev flattens segs and issues one write.
func writev(fd int, segs [][]byte) (int, error) {
	if len(segs) == 1 {
		return unix.Write(fd, segs[0])
	}
	return unix.Write(fd, SGArray{Segs: segs}.Bytes())
}
