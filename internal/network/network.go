// Package network reports connectivity to the sync coordinator.
package network

// State is a connectivity report.
type State struct {
	IsConnected bool

	// IsInternetReachable is nil when reachability is unknown.
	IsInternetReachable *bool
}

// Online reports whether actions can be replayed. Unknown reachability
// counts as reachable.
func (s State) Online() bool {
	return s.IsConnected && (s.IsInternetReachable == nil || *s.IsInternetReachable)
}

// Connected returns a connected state with known reachability.
func Connected(reachable bool) State {
	return State{IsConnected: true, IsInternetReachable: &reachable}
}

// Disconnected returns a disconnected state.
func Disconnected() State {
	return State{}
}

// Observer delivers connectivity reports.
type Observer interface {
	// Subscribe registers fn. fn is called with the current state, before
	// Subscribe returns unless the implementation documents otherwise, and
	// again on every change. The returned function removes the
	// subscription.
	Subscribe(fn func(State)) (unsubscribe func())
}
