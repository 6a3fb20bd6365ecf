//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller with an eventfd for wakeups.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
)

const wakeToken = 0

type epollPoller struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
	closed atomic.Bool
}

// NewPoller creates the platform poller.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &epollPoller{epfd: epfd, wakefd: efd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return p, nil
}

// toEpoll always arms EPOLLRDHUP so a peer shutdown is seen while read
// interest is paused.
func toEpoll(i api.Interest) uint32 {
	ev := uint32(unix.EPOLLRDHUP)
	if i&(api.InterestRead|api.InterestAccept) != 0 {
		ev |= unix.EPOLLIN
	}
	if i&(api.InterestWrite|api.InterestConnect) != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// The token is split over the Fd and Pad fields of the event data.
func setToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func tokenOf(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func (p *epollPoller) ctl(op, fd int, token uint64, interest api.Interest) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	ev := unix.EpollEvent{Events: toEpoll(interest)}
	setToken(&ev, token)
	for {
		err := unix.EpollCtl(p.epfd, op, fd, &ev)
		if err != unix.EINTR {
			return err
		}
	}
}

func (p *epollPoller) Add(fd int, token uint64, interest api.Interest) error {
	if err := p.ctl(unix.EPOLL_CTL_ADD, fd, token, interest); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Modify(fd int, token uint64, interest api.Interest) error {
	if err := p.ctl(unix.EPOLL_CTL_MOD, fd, token, interest); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return fmt.Errorf("epoll ctl del: %w", err)
}

func (p *epollPoller) Wait(events []PollEvent, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	if len(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	n, err := unix.EpollWait(p.epfd, p.raw[:len(events)], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		if p.closed.Load() {
			return 0, ErrPollerClosed
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		raw := &p.raw[i]
		token := tokenOf(raw)
		if token == wakeToken {
			p.drainWake()
			continue
		}
		var r Readiness
		if raw.Events&unix.EPOLLIN != 0 {
			r |= ReadyRead
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			r |= ReadyWrite
		}
		if raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			r |= ReadyHangup
		}
		if raw.Events&unix.EPOLLERR != 0 {
			r |= ReadyError
		}
		events[out] = PollEvent{Token: token, Ready: r}
		out++
	}
	return out, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(p.wakefd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wakefd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: the counter is saturated, a wakeup is already pending.
			return nil
		case unix.EINTR:
			continue
		}
		return fmt.Errorf("eventfd write: %w", err)
	}
}

func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	werr := unix.Close(p.wakefd)
	if err := unix.Close(p.epfd); err != nil {
		return err
	}
	return werr
}
