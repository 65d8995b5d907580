package util

import (
	"errors"
	"io"
	"sync"
	"time"
)

// A RateCounter keeps the verification sweep from monopolising the
// recording share. It hands out byte credits at a fixed rate; readers
// spend credits as they go and block while the balance is negative. The
// balance is topped up in intervals rather than continuously, so reads
// come in bursts of up to one interval's allowance.
type RateCounter struct {
	ok      chan struct{} // receives while the balance is positive
	stop    chan struct{} // closed to shut down the refill goroutine
	m       sync.Mutex    // protects balance
	balance int64
}

// refillInterval is how often the allowance is added. Short enough that a
// sweep over a quiet share does not stall for long stretches.
const refillInterval = 5 * time.Second

// ErrStopped means a read failed because its RateCounter was stopped.
var ErrStopped = errors.New("RateCounter stopped")

// NewRateCounter returns a counter granting rate bytes per second,
// credited every refillInterval. The counter starts with one interval of
// allowance so the first reads are not delayed.
func NewRateCounter(rate float64) *RateCounter {
	amount := int64(rate * refillInterval.Seconds())
	r := &RateCounter{
		ok:      make(chan struct{}),
		stop:    make(chan struct{}),
		balance: amount,
	}
	go r.refill(amount)
	return r
}

// Use spends count credits. The balance may go negative; readers then
// wait until a refill brings it back up.
func (r *RateCounter) Use(count int64) {
	r.m.Lock()
	r.balance -= count
	r.m.Unlock()
}

// OK returns a channel that receives while it is fine to keep reading.
// The channel is closed when the RateCounter is stopped.
func (r *RateCounter) OK() <-chan struct{} {
	return r.ok
}

// Stop shuts down the refill goroutine and releases all waiting readers
// with an error. Stop must be called at most once.
func (r *RateCounter) Stop() {
	close(r.stop)
}

func (r *RateCounter) refill(amount int64) {
	tick := time.NewTicker(refillInterval)
	defer tick.Stop()
	for {
		var signal chan struct{}
		r.m.Lock()
		if r.balance > 0 {
			signal = r.ok
		}
		r.m.Unlock()
		select {
		case <-tick.C:
			r.Use(-amount)
		case signal <- struct{}{}:
		case <-r.stop:
			close(r.ok)
			return
		}
	}
}

// Wrap returns a reader whose reads wait for this RateCounter. Several
// goroutines may share one counter. Reads after Stop fail with
// ErrStopped.
func (r *RateCounter) Wrap(reader io.Reader) io.Reader {
	return rateReader{reader: reader, rate: r}
}

type rateReader struct {
	reader io.Reader
	rate   *RateCounter
}

func (r rateReader) Read(p []byte) (int, error) {
	_, ok := <-r.rate.OK()
	if !ok {
		return 0, ErrStopped
	}
	n, err := r.reader.Read(p)
	r.rate.Use(int64(n))
	return n, err
}
