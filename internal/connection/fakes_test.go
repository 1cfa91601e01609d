package connection

import (
	"sync"
	"time"
)

// fakeScheduler records timers and lets tests fire them on simulated time.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d         time.Duration
	fn        func()
	periodic  bool
	cancelled bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (f *fakeScheduler) After(d time.Duration, fn func()) CancelFunc {
	return f.add(d, fn, false)
}

func (f *fakeScheduler) Every(d time.Duration, fn func()) CancelFunc {
	return f.add(d, fn, true)
}

func (f *fakeScheduler) add(d time.Duration, fn func(), periodic bool) CancelFunc {
	t := &fakeTimer{d: d, fn: fn, periodic: periodic}
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		t.cancelled = true
		f.mu.Unlock()
	}
}

// pending returns live timers, optionally filtered to periodic ones.
func (f *fakeScheduler) pending(periodic bool) []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*fakeTimer
	for _, t := range f.timers {
		if !t.cancelled && t.periodic == periodic {
			out = append(out, t)
		}
	}
	return out
}

// fireLast runs the most recently scheduled live one-shot timer and
// retires it.
func (f *fakeScheduler) fireLast() bool {
	f.mu.Lock()
	var target *fakeTimer
	for i := len(f.timers) - 1; i >= 0; i-- {
		if !f.timers[i].cancelled && !f.timers[i].periodic {
			target = f.timers[i]
			break
		}
	}
	if target != nil {
		target.cancelled = true
	}
	f.mu.Unlock()

	if target == nil {
		return false
	}
	target.fn()
	return true
}

// tickAll runs every live periodic timer once.
func (f *fakeScheduler) tickAll() {
	for _, t := range f.pending(true) {
		t.fn()
	}
}

// fakeBinding is a scriptable transport for supervisor tests. Tests
// deliver events through ev to simulate the remote end.
type fakeBinding struct {
	ev transportEvents

	mu        sync.Mutex
	opened    bool
	sent      [][]byte
	sendErr   error
	closeCode int // 0 until closed
}

func (b *fakeBinding) open() {
	b.mu.Lock()
	b.opened = true
	b.mu.Unlock()
}

func (b *fakeBinding) send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.sent = append(b.sent, cp)
	return nil
}

func (b *fakeBinding) close(code int) {
	b.mu.Lock()
	if b.closeCode == 0 {
		b.closeCode = code
	}
	b.mu.Unlock()
}

func (b *fakeBinding) sentFrames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBinding) closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCode != 0
}

// fakeDialer hands out fakeBindings and remembers them in dial order.
type fakeDialer struct {
	mu       sync.Mutex
	bindings []*fakeBinding
}

func (d *fakeDialer) dial(url string, ev transportEvents) transport {
	b := &fakeBinding{ev: ev}
	d.mu.Lock()
	d.bindings = append(d.bindings, b)
	d.mu.Unlock()
	return b
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bindings)
}

func (d *fakeDialer) last() *fakeBinding {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.bindings) == 0 {
		return nil
	}
	return d.bindings[len(d.bindings)-1]
}
