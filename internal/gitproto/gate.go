package gitproto

import (
	"sync"
	"time"
)

// acceptTimeout bounds how long the acceptance gate waits for a registered
// listener to call Accept/Reject before auto-accepting. Chosen from within
// the 100ms-1s range production Git-HTTP mediators use; applied uniformly.
const acceptTimeout = 750 * time.Millisecond

type gateState int

const (
	gatePending gateState = iota
	gateAccepted
	gateRejected
)

// acceptanceGate mediates whether an in-flight request proceeds to spawn
// git. It is safe to call Accept/Reject from any goroutine, any number of
// times; only the first call has an effect.
type acceptanceGate struct {
	once     sync.Once
	done     chan struct{}
	state    gateState
	rejectMsg string
}

func newAcceptanceGate() *acceptanceGate {
	return &acceptanceGate{done: make(chan struct{})}
}

func (g *acceptanceGate) Accept() {
	g.once.Do(func() {
		g.state = gateAccepted
		close(g.done)
	})
}

func (g *acceptanceGate) Reject(message string) {
	g.once.Do(func() {
		g.state = gateRejected
		g.rejectMsg = message
		close(g.done)
	})
}

// await blocks until a terminal transition fires or acceptTimeout elapses,
// auto-accepting on expiry. It returns the resolved state and, for rejection,
// the reject message.
func (g *acceptanceGate) await() (gateState, string) {
	select {
	case <-g.done:
	case <-time.After(acceptTimeout):
		g.Accept()
	}
	return g.state, g.rejectMsg
}

// resolve runs the gate against the listener count for its event(s): with no
// listeners it auto-accepts synchronously, otherwise it awaits a transition.
func (g *acceptanceGate) resolve(hasListener bool) (gateState, string) {
	if !hasListener {
		g.Accept()
		return g.state, g.rejectMsg
	}
	return g.await()
}
