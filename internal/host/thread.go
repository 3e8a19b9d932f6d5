package host

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Thread is the host thread: a goroutine locked to one OS thread that runs
// submitted functions in order. It satisfies system.HostExecutor.
type Thread struct {
	calls chan func()
	done  chan struct{}
	once  sync.Once
	gid   atomic.Uint64
}

// NewThread starts the host thread.
func NewThread() *Thread {
	t := &Thread{
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	started := make(chan struct{})
	go t.loop(started)
	<-started
	return t
}

func (t *Thread) loop(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)
	t.gid.Store(goroutineID())
	close(started)
	for fn := range t.calls {
		fn()
	}
}

// Current reports whether the caller is running on the host thread.
func (t *Thread) Current() bool {
	return t.gid.Load() == goroutineID()
}

// Do runs fn on the host thread and waits for it. Called from the host
// thread itself, it runs fn directly. Calling it after Close panics.
func (t *Thread) Do(fn func()) {
	if t.Current() {
		fn()
		return
	}
	finished := make(chan struct{})
	t.calls <- func() {
		defer close(finished)
		fn()
	}
	<-finished
}

// Close stops the thread after the queued call, if any, completes.
func (t *Thread) Close() {
	t.once.Do(func() { close(t.calls) })
	<-t.done
}

// goroutineID parses the id from the "goroutine N [" header of the
// caller's stack trace.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
