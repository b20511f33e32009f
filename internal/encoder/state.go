package encoder

import "sync"

// State is the encoder subprocess's internal finite-state machine. It is
// not the view published to subscribers; see Supervisor.Subscribe for the
// external, restart-collapsed view (the collapsing is done in setState).
type State int

const (
	Stopped State = iota
	Starting
	Booting
	Running
	Restarting
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Booting:
		return "booting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateBroadcaster publishes state transitions to subscribers without
// holding any lock during delivery (spec §5: "state callbacks are invoked
// outside the lock to prevent re-entrance deadlocks").
type stateBroadcaster struct {
	mu   sync.Mutex
	subs []chan State
}

func (b *stateBroadcaster) subscribe() <-chan State {
	ch := make(chan State, 8)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// publish must be called with no locks held by the caller.
func (b *stateBroadcaster) publish(s State) {
	b.mu.Lock()
	subs := make([]chan State, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- s:
		default:
			// Slow subscriber: drop rather than block the supervisor loop.
		}
	}
}
