package payment

import "github.com/agentpay-network/agentpay-go/client"

// State is the local lifecycle projection of one escrow payment.
type State string

const (
	StateCreated         State = "Created"
	StateRequested       State = "Requested"
	StateFundsLocked     State = "FundsLocked"
	StateResultSubmitted State = "ResultSubmitted"
	StateCompleted       State = "Completed"
	StateDisputed        State = "Disputed"
	StateExpired         State = "Expired"
)

var stateRank = map[State]int{
	StateCreated:         0,
	StateRequested:       1,
	StateFundsLocked:     2,
	StateResultSubmitted: 3,
	StateCompleted:       4,
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDisputed, StateExpired:
		return true
	}
	return false
}

// AtLeast reports whether s has reached the given forward-progress state.
// Terminal failure states never satisfy a forward-progress requirement.
func (s State) AtLeast(min State) bool {
	rank, ok := stateRank[s]
	minRank, minOK := stateRank[min]
	return ok && minOK && rank >= minRank
}

// Advance returns the state the record should hold after observing next.
// Transitions are monotonic: forward progress only, except that any
// non-terminal state may fall into a terminal failure state.
func (s State) Advance(next State) State {
	if s.Terminal() {
		return s
	}
	if next == StateDisputed || next == StateExpired {
		return next
	}
	if nextRank, ok := stateRank[next]; ok {
		if rank := stateRank[s]; nextRank > rank {
			return next
		}
	}
	return s
}

// StateFromSnapshot projects a service snapshot onto the local lifecycle.
// The second return is false when the snapshot carries no state information
// the lifecycle cares about. Only the explicit settlement action counts as
// completion; an idle "None" action with no on-chain state is treated as
// carrying no information, so it can never freeze the projection early.
func StateFromSnapshot(snapshot *client.StatusSnapshot) (State, bool) {
	if snapshot == nil {
		return "", false
	}
	switch snapshot.OnChainState {
	case client.OnChainFundsLocked:
		return StateFundsLocked, true
	case client.OnChainResultSubmitted:
		return StateResultSubmitted, true
	case client.OnChainComplete:
		return StateCompleted, true
	case client.OnChainDisputed, client.OnChainRefundRequested:
		return StateDisputed, true
	}
	if snapshot.NextAction.RequestedAction == client.ActionPaymentComplete {
		return StateCompleted, true
	}
	return "", false
}
