/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package cgroup

import (
	"fmt"
	"sync/atomic"

	"github.com/containerd/cgroups/v3/cgroup1"
	"golang.org/x/sys/unix"
)

// watchV1 wraps a single cgroup v1 memory controller's oom_control
// eventfd, following the epoll-registration pattern containerd's own
// OOM collector uses.
type watchV1 struct {
	epfd  int
	fd    uintptr
	fired atomic.Bool
	done  chan struct{}
}

func watchOOMv1(pid int) (OOMWatcher, error) {
	cg, err := cgroup1.Load(cgroup1.PidPath(pid))
	if err != nil {
		return nil, fmt.Errorf("cgroup: load v1 cgroup for pid %d: %w", pid, err)
	}
	fd, err := cg.OOMEventFD()
	if err != nil {
		return nil, fmt.Errorf("cgroup: oom eventfd: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("cgroup: epoll create: %w", err)
	}
	event := unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLHUP | unix.EPOLLIN | unix.EPOLLERR}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(fd), &event); err != nil {
		unix.Close(epfd)
		unix.Close(int(fd))
		return nil, fmt.Errorf("cgroup: epoll add: %w", err)
	}

	w := &watchV1{epfd: epfd, fd: fd, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *watchV1) run() {
	var events [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(w.epfd, events[:], 1000)
		select {
		case <-w.done:
			return
		default:
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		var buf [8]byte
		unix.Read(int(w.fd), buf[:])
		w.fired.Store(true)
	}
}

func (w *watchV1) Fired() bool { return w.fired.Load() }

func (w *watchV1) Close() error {
	close(w.done)
	unix.Close(int(w.fd))
	return unix.Close(w.epfd)
}
