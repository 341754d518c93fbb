package socket

import "io"

// result is what a receiver is fulfilled with: a message, an error, or
// io.EOF for end-of-sequence.
type result[T any] struct {
	msg T
	err error
}

// receiver is one pending pull. Its channel has room for exactly one
// result, so fulfilling it never blocks and it is fulfilled at most once.
type receiver[T any] struct {
	ch chan result[T]
}

func newReceiver[T any]() *receiver[T] {
	return &receiver[T]{ch: make(chan result[T], 1)}
}

func (r *receiver[T]) resolve(msg T)    { r.ch <- result[T]{msg: msg} }
func (r *receiver[T]) reject(err error) { r.ch <- result[T]{err: err} }
func (r *receiver[T]) finish()          { r.ch <- result[T]{err: io.EOF} }

// settle ends the pull with err, or with end-of-sequence when err is nil.
func (r *receiver[T]) settle(err error) {
	if err != nil {
		r.reject(err)
		return
	}
	r.finish()
}

// dispatcher pairs buffered messages with waiting receivers.
//
// Invariant: inbox and waiters are never both non-empty. A message that
// arrives while someone is waiting is handed over directly.
//
// dispatcher is not safe for concurrent use; the Bridge guards it.
type dispatcher[T any] struct {
	inbox   []T
	waiters []*receiver[T]
}

// push offers msg to the oldest waiter. It returns that waiter (which the
// caller must resolve outside its lock), or nil if msg was buffered.
func (d *dispatcher[T]) push(msg T) *receiver[T] {
	if len(d.waiters) > 0 {
		w := d.waiters[0]
		d.waiters[0] = nil
		d.waiters = d.waiters[1:]
		return w
	}
	d.inbox = append(d.inbox, msg)
	return nil
}

// pop returns the oldest buffered message.
func (d *dispatcher[T]) pop() (T, bool) {
	var zero T
	if len(d.inbox) == 0 {
		return zero, false
	}
	msg := d.inbox[0]
	d.inbox[0] = zero
	d.inbox = d.inbox[1:]
	return msg, true
}

// wait registers a new receiver at the back of the line.
func (d *dispatcher[T]) wait() *receiver[T] {
	w := newReceiver[T]()
	d.waiters = append(d.waiters, w)
	return w
}

// cancel removes w if it is still waiting. It returns false when w has
// already been taken by push or drain (and so has a result coming).
func (d *dispatcher[T]) cancel(w *receiver[T]) bool {
	for i, cur := range d.waiters {
		if cur == w {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// drain removes and returns every waiter in registration order.
func (d *dispatcher[T]) drain() []*receiver[T] {
	out := d.waiters
	d.waiters = nil
	return out
}

// discard drops buffered messages that will never be delivered.
func (d *dispatcher[T]) discard() int {
	n := len(d.inbox)
	d.inbox = nil
	return n
}

func (d *dispatcher[T]) buffered() int { return len(d.inbox) }
func (d *dispatcher[T]) waiting() int  { return len(d.waiters) }
