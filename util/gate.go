// Package util holds small concurrency and hashing helpers shared by the
// batch runner, the audit sweep, and the dataset builder.
package util

// A Gate bounds how many goroutines may be inside a section at once, and
// doubles as a cooperative stop signal for work that has not entered yet.
// Goroutines call Enter before starting a unit of work and Leave when the
// unit is finished. After Stop, Enter refuses everyone; work already
// inside the gate is expected to finish and call Leave as usual.
type Gate struct {
	slots chan struct{}
	stop  chan struct{}
}

// NewGate returns a Gate admitting at most n goroutines at a time.
func NewGate(n int) *Gate {
	return &Gate{
		slots: make(chan struct{}, n),
		stop:  make(chan struct{}),
	}
}

// Enter blocks until there is room inside the gate, and then returns true.
// It returns false, without entering, if the gate was stopped. Safe to
// call from multiple goroutines.
func (g *Gate) Enter() bool {
	select {
	case <-g.stop:
		return false
	default:
	}
	select {
	case g.slots <- struct{}{}:
		// a Stop may have raced our slot. give it precedence.
		select {
		case <-g.stop:
			<-g.slots
			return false
		default:
			return true
		}
	case <-g.stop:
		return false
	}
}

// Leave releases one slot. Each successful Enter must be balanced by one
// Leave, not necessarily from the same goroutine.
func (g *Gate) Leave() {
	<-g.slots
}

// Stop turns away every current and future Enter. It does not wait for
// goroutines already inside the gate. Stop must be called at most once.
func (g *Gate) Stop() {
	close(g.stop)
}

// Stopped reports whether Stop has been called.
func (g *Gate) Stopped() bool {
	select {
	case <-g.stop:
		return true
	default:
		return false
	}
}
