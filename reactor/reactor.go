// Package reactor runs a single epoll loop that dispatches readability on
// registered file descriptors to callbacks. The passthrough core uses one
// reactor to multiplex every MSI vector's eventfd so a device with many
// vectors costs one goroutine, not one per vector.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Callback is invoked, from the reactor's polling goroutine, when fd
// reports one of the events it was registered for. It must not block: a
// slow callback delays delivery to every other fd the reactor owns.
type Callback func(fd int)

type Reactor struct {
	epollFd int
	start   sync.Once
	close   sync.Once
	started bool

	mu        sync.Mutex
	callbacks map[int]Callback
	timers    map[int]*time.Timer
	nextTimer int

	stop chan struct{}
	done chan struct{}
}

func New() (*Reactor, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Reactor{
		epollFd:   epollFd,
		callbacks: make(map[int]Callback),
		timers:    make(map[int]*time.Timer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// StartPolling registers fd for the events in mask (typically
// unix.EPOLLIN) and arranges for callback to run whenever it fires. The
// reactor's dispatch goroutine is started lazily on the first call.
func (r *Reactor) StartPolling(fd int, mask uint32, callback Callback) error {
	event := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}

	r.mu.Lock()
	r.callbacks[fd] = callback
	r.mu.Unlock()

	r.start.Do(func() {
		r.started = true
		go r.loop()
	})
	return nil
}

// StopPolling unregisters fd. It is not an error to stop polling an fd
// that is already closed (EBADF/ENOENT are swallowed), since detach tears
// down eventfds and reactor registration in whichever order is convenient
// for the caller.
func (r *Reactor) StopPolling(fd int) error {
	r.mu.Lock()
	delete(r.callbacks, fd)
	r.mu.Unlock()

	err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		return nil
	}
	return err
}

// AddTimer schedules callback to run once after d elapses and returns an
// id RemoveTimer can cancel it with. There is no repeating-timer variant;
// nothing in this repository needs one, and time.AfterFunc is the
// idiomatic one-shot primitive rather than hand-rolling a wheel.
func (r *Reactor) AddTimer(d time.Duration, callback func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTimer++
	id := r.nextTimer
	r.timers[id] = time.AfterFunc(d, callback)
	return id
}

func (r *Reactor) RemoveTimer(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
}

func (r *Reactor) loop() {
	defer close(r.done)

	events := make([]unix.EpollEvent, 32)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		n, err := unix.EpollWait(r.epollFd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			r.mu.Lock()
			cb, ok := r.callbacks[fd]
			r.mu.Unlock()
			if ok {
				cb(fd)
			}
		}
	}
}

// Close stops the polling goroutine, if one was ever started, and closes
// the epoll fd.
func (r *Reactor) Close() error {
	r.close.Do(func() {
		close(r.stop)
		if r.started {
			<-r.done
		}
	})
	return unix.Close(r.epollFd)
}
