// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// fileQueue is the regular-file variant. Pushes append at the current file
// offset, pops read the next chunk from it; an empty pop outcome is EOF.
// Both share the fd's single offset, as read(2) and write(2) do.
type fileQueue struct {
	netless
	*fdQueue
}

// openFile opens path non-blocking and close-on-exec. O_NONBLOCK has no
// effect on regular files but keeps FIFOs and terminals off the reactor's
// critical path.
func openFile(path string, flags int, mode uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC|unix.O_NONBLOCK, mode)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

func newFileQueue(eng *engine, log *zap.Logger, sysfd, readSize int) *fileQueue {
	return &fileQueue{fdQueue: newFDQueue(eng, log, sysfd, readSize)}
}

func (f *fileQueue) kind() Kind {
	return KindFile
}
