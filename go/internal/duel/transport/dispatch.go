package transport

import "sync"

// Dispatcher delivers events to a Handler from a single goroutine, in the order
// they were queued. Network-backed transports queue events from their read
// loops and from their own methods, so the Handler is never invoked
// synchronously from Start, Connect, Send or Close.
type Dispatcher struct {
	h Handler

	mu      sync.Mutex
	queue   []func(Handler)
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// NewDispatcher creates a dispatcher for h. Run must be started to deliver.
func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{
		h:    h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run delivers events until Stop is called.
func (d *Dispatcher) Run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			fn(d.h)
		}
	}
}

// Stop discards pending events. Nothing is delivered after Stop returns,
// except an event whose delivery is already in progress.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.queue = nil
	close(d.done)
}

func (d *Dispatcher) push(fn func(Handler)) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Ready queues OnReady.
func (d *Dispatcher) Ready(id string) {
	d.push(func(h Handler) { h.OnReady(id) })
}

// Connection queues OnConnection.
func (d *Dispatcher) Connection(c Connection) {
	d.push(func(h Handler) { h.OnConnection(c) })
}

// Open queues OnOpen.
func (d *Dispatcher) Open(c Connection) {
	d.push(func(h Handler) { h.OnOpen(c) })
}

// Data queues OnData.
func (d *Dispatcher) Data(c Connection, msg []byte) {
	d.push(func(h Handler) { h.OnData(c, msg) })
}

// Close queues OnClose.
func (d *Dispatcher) Close(c Connection) {
	d.push(func(h Handler) { h.OnClose(c) })
}

// Error queues OnError.
func (d *Dispatcher) Error(err error) {
	d.push(func(h Handler) { h.OnError(err) })
}
